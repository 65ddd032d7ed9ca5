package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"stagehand/core"
	"stagehand/slides"
	"stagehand/voice"
)

// Config bounds the orchestrator's concurrency and hint cadence.
type Config struct {
	// MaxThoughts is the maximum number of concurrently running reasoning
	// cycles. Further utterances are buffered, not rejected.
	MaxThoughts int
	// HintCooldown is the minimum gap between two hints for the same slide.
	HintCooldown time.Duration
	// UtteranceBuffer is the FIFO capacity for utterances arriving while at
	// capacity. On overflow the oldest is dropped with a warning.
	UtteranceBuffer int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxThoughts:     2,
		HintCooldown:    30 * time.Second,
		UtteranceBuffer: 8,
	}
}

// Runner executes one reasoning cycle. A non-nil error marks the Thought
// Rejected; the session itself is unaffected either way.
type Runner interface {
	Run(ctx context.Context, handle ThoughtHandle) error
}

// Frontend is the outbound side of the live session channel.
type Frontend interface {
	SendGoto(route string) error
	SendHint(text string) error
	Connected() bool
}

// Transcript answers whether a topic was covered for a slide in a prior
// session's run.
type Transcript interface {
	Covered(route, topic string) bool
}

// Recorder observes every tool invocation and slide transition.
// Implementations must be best-effort and non-blocking.
type Recorder interface {
	RecordInvocation(core.InvocationRecord)
	RecordAdvance(core.AdvanceRecord)
}

// Orchestrator admits, bounds, and sequences reasoning cycles, and
// arbitrates their side effects against the shared session state. All state
// mutations pass through its mutex, one at a time, regardless of how many
// Thoughts run concurrently. Reads of the immutable slide deck are free.
type Orchestrator struct {
	cfg      Config
	deck     *slides.Store
	archive  Transcript
	frontend Frontend
	speaker  voice.Speaker
	recorder Recorder
	logger   *core.Logger

	mu       sync.Mutex
	state    SessionState
	thoughts map[string]*Thought
	buffer   []Trigger
	runner   Runner
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator for one live session. Call SetRunner before
// submitting utterances, and Close at session end.
func New(cfg Config, deck *slides.Store, archive Transcript, frontend Frontend, speaker voice.Speaker, recorder Recorder, logger *core.Logger) *Orchestrator {
	if logger == nil {
		logger = core.GetLogger()
	}
	if cfg.MaxThoughts <= 0 {
		cfg.MaxThoughts = DefaultConfig().MaxThoughts
	}
	if cfg.HintCooldown <= 0 {
		cfg.HintCooldown = DefaultConfig().HintCooldown
	}
	if cfg.UtteranceBuffer <= 0 {
		cfg.UtteranceBuffer = DefaultConfig().UtteranceBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		deck:     deck,
		archive:  archive,
		frontend: frontend,
		speaker:  speaker,
		recorder: recorder,
		logger:   logger.With(map[string]interface{}{"component": "orchestrator"}),
		state: SessionState{
			Coverage: make(map[string]*CoverageRecord),
		},
		thoughts: make(map[string]*Thought),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetRunner wires the reasoning loop. Must be called once before any
// utterance is submitted.
func (o *Orchestrator) SetRunner(r Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runner = r
}

// Close tears the session down: no further thoughts are admitted and the
// call blocks until running thoughts have finished.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.buffer = nil
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

// SubmitUtterance enqueues a transcribed utterance as a reasoning trigger.
// It starts a Thought immediately when capacity allows, otherwise buffers
// the utterance in FIFO order (oldest dropped with a warning on overflow).
// The utterance also updates the current slide's coverage tally.
func (o *Orchestrator) SubmitUtterance(text string, timestamp time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	o.tallyCoverageLocked(text)

	trigger := Trigger{Text: text, Timestamp: timestamp}
	if o.state.ActiveThoughts < o.cfg.MaxThoughts {
		o.startThoughtLocked(trigger)
		return
	}

	if len(o.buffer) >= o.cfg.UtteranceBuffer {
		dropped := o.buffer[0]
		o.buffer = o.buffer[1:]
		o.logger.With(map[string]interface{}{"text": dropped.Text}).Warn("utterance buffer full, dropping oldest")
	}
	o.buffer = append(o.buffer, trigger)
}

// StartThought allocates a Thought for the trigger and hands it to the
// runner. Fails with ErrAtCapacity when MaxThoughts are already running.
func (o *Orchestrator) StartThought(trigger Trigger) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return "", ErrSessionClosed
	}
	if o.state.ActiveThoughts >= o.cfg.MaxThoughts {
		return "", ErrAtCapacity
	}
	th := o.startThoughtLocked(trigger)
	return th.ID, nil
}

func (o *Orchestrator) startThoughtLocked(trigger Trigger) *Thought {
	th := &Thought{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Status:    ThoughtRunning,
		Route:     o.state.CurrentRoute,
	}
	o.thoughts[th.ID] = th
	o.state.ActiveThoughts++

	handle := ThoughtHandle{ID: th.ID, Trigger: trigger, Route: th.Route}
	runner := o.runner
	if runner == nil {
		o.logger.Error("no runner wired, rejecting thought immediately")
		go o.CompleteThought(th.ID, OutcomeRejected)
		return th
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		outcome := OutcomeCompleted
		defer func() {
			if r := recover(); r != nil {
				o.logger.With(map[string]interface{}{"thought_id": handle.ID, "panic": r}).Error("thought panicked")
				o.CompleteThought(handle.ID, OutcomeRejected)
			}
		}()
		if err := runner.Run(o.ctx, handle); err != nil {
			o.logger.With(map[string]interface{}{"thought_id": handle.ID, "error": err}).Warn("thought failed")
			outcome = OutcomeRejected
		}
		o.CompleteThought(handle.ID, outcome)
	}()
	return th
}

// CompleteThought releases the Thought's capacity slot and, if utterances
// are buffered, immediately starts the next one in FIFO order.
func (o *Orchestrator) CompleteThought(thoughtID string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()

	th, ok := o.thoughts[thoughtID]
	if !ok {
		return
	}
	if outcome == OutcomeRejected {
		th.Status = ThoughtRejected
	} else {
		th.Status = ThoughtCompleted
	}
	delete(o.thoughts, thoughtID)
	o.state.ActiveThoughts--

	if !o.closed && len(o.buffer) > 0 && o.state.ActiveThoughts < o.cfg.MaxThoughts {
		next := o.buffer[0]
		o.buffer = o.buffer[1:]
		o.startThoughtLocked(next)
	}
}

// OnToolInvocation is the single serialization point for tool side effects.
// It validates preconditions, mutates session state all-or-nothing, and
// returns either a result payload or a typed rejection. The say tool's voice
// output runs after arbitration so a slow TTS never stalls other thoughts.
func (o *Orchestrator) OnToolInvocation(thoughtID, tool string, args map[string]any) (string, error) {
	result, sayText, err := o.arbitrate(thoughtID, tool, args)

	if err == nil && sayText != "" && o.speaker != nil {
		if sErr := o.speaker.Speak(o.ctx, sayText); sErr != nil {
			result = ""
			err = fmt.Errorf("orchestrator: voice output: %w", sErr)
		}
	}

	o.recordInvocation(thoughtID, tool, args, result, err)
	return result, err
}

// arbitrate holds the session lock for the whole decision. Outbound channel
// sends are buffered and non-blocking, so sending under the lock is safe;
// only voice output is deferred to the caller.
func (o *Orchestrator) arbitrate(thoughtID, tool string, args map[string]any) (result string, sayText string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	th, ok := o.thoughts[thoughtID]
	if !ok {
		return "", "", ErrUnknownThought
	}

	switch tool {
	case "get_all_slide_details":
		return o.slideDetailsLocked()

	case "say":
		text := stringArg(args, "text")
		if text == "" {
			return "", "", fmt.Errorf("%w: say requires text", ErrMissingArgument)
		}
		if th.Route != o.state.CurrentRoute {
			return "", "", ErrStaleThought
		}
		return fmt.Sprintf("said: %s", text), text, nil

	case "hint":
		text := stringArg(args, "text")
		if text == "" {
			return "", "", fmt.Errorf("%w: hint requires text", ErrMissingArgument)
		}
		if th.Route != o.state.CurrentRoute {
			return "", "", ErrStaleThought
		}
		if o.state.CurrentRoute == "" {
			return "", "", ErrNoCurrentSlide
		}
		rec := o.currentCoverageLocked()
		if !rec.LastHintAt.IsZero() && time.Since(rec.LastHintAt) < o.cfg.HintCooldown {
			return "", "", ErrCooldownActive
		}
		if sendErr := o.frontend.SendHint(text); sendErr != nil {
			return "", "", sendErr
		}
		rec.LastHintAt = time.Now()
		return fmt.Sprintf("hint delivered: %s", text), "", nil

	case "next_slide":
		if o.state.CurrentRoute == "" {
			return "", "", ErrNoCurrentSlide
		}
		target, ok := o.deck.Next(o.state.CurrentRoute)
		if !ok {
			return "", "", ErrAtLastSlide
		}
		return o.navigateLocked(th, target.Route)

	case "previous_slide":
		if o.state.CurrentRoute == "" {
			return "", "", ErrNoCurrentSlide
		}
		target, ok := o.deck.Previous(o.state.CurrentRoute)
		if !ok {
			return "", "", ErrAtFirstSlide
		}
		return o.navigateLocked(th, target.Route)

	case "goto_slide":
		route := stringArg(args, "route")
		if route == "" {
			return "", "", fmt.Errorf("%w: goto_slide requires route", ErrMissingArgument)
		}
		if _, ok := o.deck.ByRoute(route); !ok {
			return "", "", fmt.Errorf("%w: %q", ErrUnknownRoute, route)
		}
		return o.navigateLocked(th, route)

	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
}

// navigateLocked handles the tool-driven slide advance: a navigation attempt
// is the moment a hint can still save a skipped topic, so hint eligibility
// is evaluated against the outgoing slide before the goto goes out.
func (o *Orchestrator) navigateLocked(th *Thought, target string) (string, string, error) {
	if !o.frontend.Connected() {
		return "", "", ErrNotConnected
	}

	o.maybeHintLocked(th.ID)

	if err := o.frontend.SendGoto(target); err != nil {
		return "", "", err
	}
	o.advanceLocked(target, "tool")
	// The thought keeps pace with its own navigation: only slides left
	// behind by other actors make it stale.
	th.Route = target
	return fmt.Sprintf("navigated to %s", target), "", nil
}

// maybeHintLocked fires a hint for the outgoing slide when (a) one of its
// expected topics is still uncovered, (b) the prior session's transcript
// shows that topic was covered at this slide, and (c) the cooldown elapsed.
func (o *Orchestrator) maybeHintLocked(thoughtID string) {
	route := o.state.CurrentRoute
	if route == "" {
		return
	}
	slide, ok := o.deck.ByRoute(route)
	if !ok || len(slide.Topics) == 0 {
		return
	}
	rec := o.currentCoverageLocked()
	if !rec.LastHintAt.IsZero() && time.Since(rec.LastHintAt) < o.cfg.HintCooldown {
		return
	}

	for _, topic := range slide.Topics {
		if _, mentioned := rec.TopicsMentioned[strings.ToLower(topic)]; mentioned {
			continue
		}
		if o.archive == nil || !o.archive.Covered(route, topic) {
			continue
		}
		text := fmt.Sprintf("You haven't mentioned %q yet. It came up at this point last time.", topic)
		if err := o.frontend.SendHint(text); err != nil {
			o.logger.With(map[string]interface{}{"error": err}).Warn("failed to send hint")
			return
		}
		rec.LastHintAt = time.Now()
		o.recordInvocation(thoughtID, "hint", map[string]any{"text": text, "auto": true}, "hint delivered", nil)
		return
	}
}

// OnSlideAdvance applies a navigation event reported by the frontend. Routed
// through the same serialization point as tool invocations so a running
// Thought never observes a half-applied transition.
func (o *Orchestrator) OnSlideAdvance(route string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.deck.ByRoute(route); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, route)
	}
	o.advanceLocked(route, "frontend")
	return nil
}

// advanceLocked finalizes the outgoing coverage record and makes the record
// for the new route current, creating it on first visit. A no-op when the
// route is already current, which is what preserves accumulated coverage
// across frontend reconnects.
func (o *Orchestrator) advanceLocked(route, origin string) {
	from := o.state.CurrentRoute
	if from == route {
		if _, ok := o.state.Coverage[route]; ok {
			return
		}
	}

	if rec, ok := o.state.Coverage[from]; ok && from != route && rec.FinalizedAt.IsZero() {
		rec.FinalizedAt = time.Now()
	}

	o.state.CurrentRoute = route
	if rec, ok := o.state.Coverage[route]; ok {
		// Revisit: reopen the record, keep the accumulated tally.
		rec.FinalizedAt = time.Time{}
	} else {
		o.state.Coverage[route] = newCoverageRecord(route, time.Now())
	}

	o.logger.With(map[string]interface{}{"from": from, "to": route, "origin": origin}).Info("slide advanced")
	if o.recorder != nil {
		o.recorder.RecordAdvance(core.AdvanceRecord{FromRoute: from, ToRoute: route, Origin: origin})
	}
}

// --- channel.Handler ---

// HandleConnection bootstraps or resynchronizes the session from a frontend
// connection message. The frontend's reported route wins any divergence in
// navigation position; coverage and hint state stay untouched.
func (o *Orchestrator) HandleConnection(routes []string, currentRoute string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	known := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		known[route] = struct{}{}
		if _, ok := o.deck.ByRoute(route); !ok {
			o.logger.With(map[string]interface{}{"route": route}).Warn("frontend route not in slide deck")
		}
	}
	for _, route := range o.deck.Routes() {
		if _, ok := known[route]; !ok {
			o.logger.With(map[string]interface{}{"route": route}).Warn("deck route not reported by frontend")
		}
	}

	if _, ok := o.deck.ByRoute(currentRoute); !ok {
		o.logger.With(map[string]interface{}{"route": currentRoute}).Warn("frontend current route unknown, keeping state")
		return
	}
	o.advanceLocked(currentRoute, "connection")
}

// HandleRouteChange applies a frontend-initiated navigation.
func (o *Orchestrator) HandleRouteChange(currentRoute string) {
	if err := o.OnSlideAdvance(currentRoute); err != nil {
		o.logger.With(map[string]interface{}{"route": currentRoute, "error": err}).Warn("ignoring route change")
	}
}

// HandleHeartbeat treats the heartbeat's route as a resync fallback: if it
// disagrees with the session's idea of the current slide, the frontend wins.
func (o *Orchestrator) HandleHeartbeat(currentRoute string) {
	if currentRoute == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if currentRoute == o.state.CurrentRoute {
		return
	}
	if _, ok := o.deck.ByRoute(currentRoute); !ok {
		o.logger.With(map[string]interface{}{"route": currentRoute}).Warn("ignoring heartbeat route")
		return
	}
	o.advanceLocked(currentRoute, "heartbeat")
}

// --- internals ---

func (o *Orchestrator) slideDetailsLocked() (string, string, error) {
	type detail struct {
		Route   string   `json:"route"`
		Topics  []string `json:"topics,omitempty"`
		Content string   `json:"content,omitempty"`
	}
	details := make([]detail, 0, o.deck.Len())
	for _, slide := range o.deck.List() {
		details = append(details, detail{Route: slide.Route, Topics: slide.Topics, Content: slide.Content})
	}
	data, err := sonic.Marshal(details)
	if err != nil {
		return "", "", fmt.Errorf("orchestrator: marshal slide details: %w", err)
	}
	return string(data), "", nil
}

func (o *Orchestrator) tallyCoverageLocked(text string) {
	route := o.state.CurrentRoute
	if route == "" {
		return
	}
	slide, ok := o.deck.ByRoute(route)
	if !ok {
		return
	}
	rec := o.currentCoverageLocked()
	lower := strings.ToLower(text)
	for _, topic := range slide.Topics {
		if strings.Contains(lower, strings.ToLower(topic)) {
			rec.TopicsMentioned[strings.ToLower(topic)] = struct{}{}
		}
	}
}

func (o *Orchestrator) currentCoverageLocked() *CoverageRecord {
	rec, ok := o.state.Coverage[o.state.CurrentRoute]
	if !ok {
		rec = newCoverageRecord(o.state.CurrentRoute, time.Now())
		o.state.Coverage[o.state.CurrentRoute] = rec
	}
	return rec
}

func (o *Orchestrator) recordInvocation(thoughtID, tool string, args map[string]any, result string, err error) {
	if o.recorder == nil {
		return
	}
	rec := core.InvocationRecord{
		ThoughtID: thoughtID,
		Tool:      tool,
		Arguments: args,
		Result:    result,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	o.recorder.RecordInvocation(rec)
}

func stringArg(args map[string]any, name string) string {
	if args == nil {
		return ""
	}
	v, ok := args[name].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// --- introspection (used by the agent's context assembly and tests) ---

// CurrentRoute returns the route the session believes is on screen.
func (o *Orchestrator) CurrentRoute() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.CurrentRoute
}

// ActiveThoughtCount returns the number of running reasoning cycles.
func (o *Orchestrator) ActiveThoughtCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.ActiveThoughts
}

// BufferedUtterances returns how many utterances await a capacity slot.
func (o *Orchestrator) BufferedUtterances() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buffer)
}

// CoverageTopics returns the sorted topics tallied as mentioned for a route.
func (o *Orchestrator) CoverageTopics(route string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.state.Coverage[route]
	if !ok {
		return nil
	}
	topics := make([]string, 0, len(rec.TopicsMentioned))
	for topic := range rec.TopicsMentioned {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
