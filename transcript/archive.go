package transcript

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"stagehand/core"
)

// Entry is one covered topic from a prior session, keyed by slide route.
type Entry struct {
	Route     string    `json:"route"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"ts"`
}

// Archive is a read-only index over a prior session's transcript log.
// Used to decide whether a topic the presenter is skipping now was actually
// covered last time, which is what makes a hint worth giving.
type Archive struct {
	byRoute map[string][]Entry
}

// Load reads a line-oriented .jsonl transcript file. Malformed lines are
// logged and skipped; they never fail the load.
func Load(path string, logger *core.Logger) (*Archive, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %q: %w", path, err)
	}
	defer f.Close()

	archive := &Archive{byRoute: make(map[string][]Entry)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line, skipped := 0, 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var entry Entry
		if err := sonic.Unmarshal([]byte(raw), &entry); err != nil || entry.Route == "" || entry.Topic == "" {
			skipped++
			logger.With(map[string]interface{}{"line": line}).Warn("skipping malformed transcript line")
			continue
		}
		archive.byRoute[entry.Route] = append(archive.byRoute[entry.Route], entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("transcript: read %q: %w", path, err)
	}

	for route := range archive.byRoute {
		entries := archive.byRoute[route]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		})
	}

	logger.With(map[string]interface{}{
		"routes":  len(archive.byRoute),
		"skipped": skipped,
	}).Info("transcript archive loaded")

	return archive, nil
}

// Empty returns an archive with no prior-session data. Hints that depend on
// prior coverage simply never fire against it.
func Empty() *Archive {
	return &Archive{byRoute: make(map[string][]Entry)}
}

// FromEntries builds an archive from in-memory entries.
func FromEntries(entries []Entry) *Archive {
	archive := &Archive{byRoute: make(map[string][]Entry)}
	for _, e := range entries {
		archive.byRoute[e.Route] = append(archive.byRoute[e.Route], e)
	}
	return archive
}

// Lookup returns the prior session's covered topics for a route, ordered by
// timestamp. The returned slice must not be mutated.
func (a *Archive) Lookup(route string) []Entry {
	return a.byRoute[route]
}

// Covered reports whether a topic was covered for the route in the prior
// session. Matching is case-insensitive.
func (a *Archive) Covered(route, topic string) bool {
	for _, e := range a.byRoute[route] {
		if strings.EqualFold(e.Topic, topic) {
			return true
		}
	}
	return false
}
