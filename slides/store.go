package slides

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stagehand/core"
)

// Slide is one slide of the deck. Immutable once loaded.
type Slide struct {
	ID                      int      `json:"-"` // ordinal position in the deck
	Route                   string   `json:"route"`
	Topics                  []string `json:"topics,omitempty"`
	ExpectedDurationSeconds int      `json:"expected_duration_seconds,omitempty"`
	ContentFile             string   `json:"content_file,omitempty"`
	Content                 string   `json:"-"` // loaded from ContentFile, may be empty
}

// ExpectedDuration returns the timing hint for the slide, zero when unset.
func (s Slide) ExpectedDuration() time.Duration {
	return time.Duration(s.ExpectedDurationSeconds) * time.Second
}

// Store holds the immutable slide sequence for a session. Loaded once at
// session start; safe for concurrent reads without synchronization.
type Store struct {
	slides  []Slide
	byRoute map[string]int
}

type deckFile struct {
	Slides []Slide `json:"slides"`
}

// Load reads the deck descriptor and the per-slide content files (resolved
// relative to the descriptor's directory). A missing content file is logged
// and leaves the slide's content empty; it does not fail the load.
func Load(deckPath string, logger *core.Logger) (*Store, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	data, err := os.ReadFile(deckPath)
	if err != nil {
		return nil, fmt.Errorf("slides: read deck %q: %w", deckPath, err)
	}

	var deck deckFile
	if err := json.Unmarshal(data, &deck); err != nil {
		return nil, fmt.Errorf("slides: parse deck %q: %w", deckPath, err)
	}
	if len(deck.Slides) == 0 {
		return nil, fmt.Errorf("slides: deck %q contains no slides", deckPath)
	}

	baseDir := filepath.Dir(deckPath)
	store := &Store{byRoute: make(map[string]int, len(deck.Slides))}
	loaded, missing := 0, 0
	for i, slide := range deck.Slides {
		if slide.Route == "" {
			return nil, fmt.Errorf("slides: deck %q: slide %d has no route", deckPath, i)
		}
		if _, dup := store.byRoute[slide.Route]; dup {
			return nil, fmt.Errorf("slides: deck %q: duplicate route %q", deckPath, slide.Route)
		}
		slide.ID = i
		if slide.ContentFile != "" {
			content, err := os.ReadFile(filepath.Join(baseDir, slide.ContentFile))
			if err != nil {
				logger.With(map[string]interface{}{"route": slide.Route, "error": err}).Warn("slide content file unreadable")
				missing++
			} else {
				slide.Content = string(content)
				loaded++
			}
		}
		store.byRoute[slide.Route] = i
		store.slides = append(store.slides, slide)
	}

	logger.With(map[string]interface{}{
		"slides":          len(store.slides),
		"content_loaded":  loaded,
		"content_missing": missing,
	}).Info("slide deck loaded")

	return store, nil
}

// FromSlides builds a store directly from an in-memory slide sequence.
func FromSlides(seq []Slide) (*Store, error) {
	store := &Store{byRoute: make(map[string]int, len(seq))}
	for i, slide := range seq {
		if slide.Route == "" {
			return nil, fmt.Errorf("slides: slide %d has no route", i)
		}
		if _, dup := store.byRoute[slide.Route]; dup {
			return nil, fmt.Errorf("slides: duplicate route %q", slide.Route)
		}
		slide.ID = i
		store.byRoute[slide.Route] = i
		store.slides = append(store.slides, slide)
	}
	return store, nil
}

// List returns the full slide sequence in deck order.
func (s *Store) List() []Slide {
	out := make([]Slide, len(s.slides))
	copy(out, s.slides)
	return out
}

// Routes returns all routes in deck order.
func (s *Store) Routes() []string {
	out := make([]string, len(s.slides))
	for i, slide := range s.slides {
		out[i] = slide.Route
	}
	return out
}

// Len returns the number of slides in the deck.
func (s *Store) Len() int {
	return len(s.slides)
}

// ByRoute looks a slide up by its route.
func (s *Store) ByRoute(route string) (Slide, bool) {
	i, ok := s.byRoute[route]
	if !ok {
		return Slide{}, false
	}
	return s.slides[i], true
}

// Next returns the slide following the given route, false at the deck end.
func (s *Store) Next(route string) (Slide, bool) {
	i, ok := s.byRoute[route]
	if !ok || i+1 >= len(s.slides) {
		return Slide{}, false
	}
	return s.slides[i+1], true
}

// Previous returns the slide preceding the given route, false at the start.
func (s *Store) Previous(route string) (Slide, bool) {
	i, ok := s.byRoute[route]
	if !ok || i == 0 {
		return Slide{}, false
	}
	return s.slides[i-1], true
}
