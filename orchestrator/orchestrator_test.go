package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/core"
	"stagehand/orchestrator"
	"stagehand/slides"
	"stagehand/transcript"
)

type fakeFrontend struct {
	mu        sync.Mutex
	connected bool
	gotos     []string
	hints     []string
}

func (f *fakeFrontend) SendGoto(route string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotos = append(f.gotos, route)
	return nil
}

func (f *fakeFrontend) SendHint(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints = append(f.hints, text)
	return nil
}

func (f *fakeFrontend) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFrontend) sentGotos() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gotos...)
}

func (f *fakeFrontend) sentHints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hints...)
}

type fakeSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *fakeSpeaker) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	invocations []core.InvocationRecord
	advances    []core.AdvanceRecord
}

func (r *fakeRecorder) RecordInvocation(rec core.InvocationRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, rec)
}

func (r *fakeRecorder) RecordAdvance(rec core.AdvanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advances = append(r.advances, rec)
}

// blockingRunner parks every thought until released, so tests control exactly
// how many reasoning cycles are in flight.
type blockingRunner struct {
	started chan orchestrator.ThoughtHandle
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan orchestrator.ThoughtHandle, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Run(ctx context.Context, handle orchestrator.ThoughtHandle) error {
	r.started <- handle
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

func (r *blockingRunner) releaseOne() {
	r.release <- struct{}{}
}

func (r *blockingRunner) waitStarted(t *testing.T) orchestrator.ThoughtHandle {
	t.Helper()
	select {
	case h := <-r.started:
		return h
	case <-time.After(time.Second):
		t.Fatal("no thought started within a second")
		return orchestrator.ThoughtHandle{}
	}
}

func testDeck(t *testing.T) *slides.Store {
	t.Helper()
	deck, err := slides.FromSlides([]slides.Slide{
		{Route: "/a", Topics: []string{"pricing", "timeline"}},
		{Route: "/b", Topics: []string{"roadmap"}},
		{Route: "/c"},
	})
	require.NoError(t, err)
	return deck
}

func newTestOrchestrator(t *testing.T, cfg orchestrator.Config, archive *transcript.Archive) (*orchestrator.Orchestrator, *fakeFrontend, *fakeSpeaker, *blockingRunner) {
	t.Helper()
	if archive == nil {
		archive = transcript.Empty()
	}
	frontend := &fakeFrontend{connected: true}
	speaker := &fakeSpeaker{}
	runner := newBlockingRunner()
	orch := orchestrator.New(cfg, testDeck(t), archive, frontend, speaker, nil, core.NewDevelopmentLogger())
	orch.SetRunner(runner)
	t.Cleanup(orch.Close)
	return orch, frontend, speaker, runner
}

func TestConcurrencyBoundWithFIFOBuffer(t *testing.T) {
	orch, _, _, runner := newTestOrchestrator(t, orchestrator.Config{MaxThoughts: 2, UtteranceBuffer: 8}, nil)

	orch.SubmitUtterance("one", time.Now())
	orch.SubmitUtterance("two", time.Now())
	orch.SubmitUtterance("three", time.Now())

	first := runner.waitStarted(t)
	second := runner.waitStarted(t)
	// Both admitted thoughts run concurrently; their start order on the
	// runner is not defined. Only buffered utterances are FIFO.
	assert.ElementsMatch(t, []string{"one", "two"}, []string{first.Trigger.Text, second.Trigger.Text})
	assert.Equal(t, 2, orch.ActiveThoughtCount())
	assert.Equal(t, 1, orch.BufferedUtterances())

	runner.releaseOne()
	third := runner.waitStarted(t)
	assert.Equal(t, "three", third.Trigger.Text)
	assert.Eventually(t, func() bool {
		return orch.BufferedUtterances() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	orch, _, _, runner := newTestOrchestrator(t, orchestrator.Config{MaxThoughts: 1, UtteranceBuffer: 2}, nil)

	orch.SubmitUtterance("a", time.Now())
	runner.waitStarted(t)
	orch.SubmitUtterance("b", time.Now())
	orch.SubmitUtterance("c", time.Now())
	orch.SubmitUtterance("d", time.Now()) // overflows, "b" is dropped

	assert.Equal(t, 2, orch.BufferedUtterances())

	runner.releaseOne()
	assert.Equal(t, "c", runner.waitStarted(t).Trigger.Text)
	runner.releaseOne()
	assert.Equal(t, "d", runner.waitStarted(t).Trigger.Text)
}

func TestStartThoughtAtCapacity(t *testing.T) {
	orch, _, _, runner := newTestOrchestrator(t, orchestrator.Config{MaxThoughts: 1}, nil)

	_, err := orch.StartThought(orchestrator.Trigger{Text: "first", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = orch.StartThought(orchestrator.Trigger{Text: "second", Timestamp: time.Now()})
	assert.ErrorIs(t, err, orchestrator.ErrAtCapacity)
}

func TestHintCooldown(t *testing.T) {
	orch, frontend, _, runner := newTestOrchestrator(t, orchestrator.Config{HintCooldown: time.Hour}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "talk", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	result, err := orch.OnToolInvocation(id, "hint", map[string]any{"text": "mention pricing"})
	require.NoError(t, err)
	assert.Contains(t, result, "mention pricing")
	assert.Equal(t, []string{"mention pricing"}, frontend.sentHints())

	_, err = orch.OnToolInvocation(id, "hint", map[string]any{"text": "again"})
	assert.ErrorIs(t, err, orchestrator.ErrCooldownActive)
	assert.Len(t, frontend.sentHints(), 1)
}

func TestZeroConfigStillDedupsHints(t *testing.T) {
	orch, frontend, _, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "talk", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	// A zero-value config falls back to the default cooldown instead of
	// allowing back-to-back hints.
	_, err = orch.OnToolInvocation(id, "hint", map[string]any{"text": "first"})
	require.NoError(t, err)
	_, err = orch.OnToolInvocation(id, "hint", map[string]any{"text": "second"})
	assert.ErrorIs(t, err, orchestrator.ErrCooldownActive)
	assert.Len(t, frontend.sentHints(), 1)
}

func TestStaleThoughtRejected(t *testing.T) {
	orch, _, speaker, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "talk", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	// The presenter moves on while the thought is still reasoning.
	require.NoError(t, orch.OnSlideAdvance("/b"))

	_, err = orch.OnToolInvocation(id, "say", map[string]any{"text": "about slide a"})
	assert.ErrorIs(t, err, orchestrator.ErrStaleThought)
	_, err = orch.OnToolInvocation(id, "hint", map[string]any{"text": "about slide a"})
	assert.ErrorIs(t, err, orchestrator.ErrStaleThought)
	assert.Empty(t, speaker.said())
}

func TestSayAfterOwnNavigation(t *testing.T) {
	orch, frontend, speaker, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "move on and announce it", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = orch.OnToolInvocation(id, "next_slide", nil)
	require.NoError(t, err)
	require.Equal(t, "/b", orch.CurrentRoute())

	// The thought advanced the slide itself, so it is not stale: it may
	// still speak and hint about the slide it navigated to.
	result, err := orch.OnToolInvocation(id, "say", map[string]any{"text": "here is the roadmap"})
	require.NoError(t, err)
	assert.Contains(t, result, "here is the roadmap")
	assert.Equal(t, []string{"here is the roadmap"}, speaker.said())

	_, err = orch.OnToolInvocation(id, "hint", map[string]any{"text": "cover the roadmap"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cover the roadmap"}, frontend.sentHints())
}

func TestSaySpeaks(t *testing.T) {
	orch, _, speaker, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "hey agent", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	result, err := orch.OnToolInvocation(id, "say", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Contains(t, result, "hello")
	assert.Equal(t, []string{"hello"}, speaker.said())
}

func TestNavigationTools(t *testing.T) {
	orch, frontend, _, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "move on", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = orch.OnToolInvocation(id, "previous_slide", nil)
	assert.ErrorIs(t, err, orchestrator.ErrAtFirstSlide)

	result, err := orch.OnToolInvocation(id, "next_slide", nil)
	require.NoError(t, err)
	assert.Contains(t, result, "/b")
	assert.Equal(t, "/b", orch.CurrentRoute())
	assert.Equal(t, []string{"/b"}, frontend.sentGotos())

	_, err = orch.OnToolInvocation(id, "goto_slide", map[string]any{"route": "/nope"})
	assert.ErrorIs(t, err, orchestrator.ErrUnknownRoute)

	_, err = orch.OnToolInvocation(id, "goto_slide", map[string]any{"route": "/c"})
	require.NoError(t, err)
	assert.Equal(t, "/c", orch.CurrentRoute())

	_, err = orch.OnToolInvocation(id, "next_slide", nil)
	assert.ErrorIs(t, err, orchestrator.ErrAtLastSlide)
}

func TestNavigationRequiresFrontend(t *testing.T) {
	orch, frontend, _, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)
	frontend.mu.Lock()
	frontend.connected = false
	frontend.mu.Unlock()

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "move on", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = orch.OnToolInvocation(id, "next_slide", nil)
	assert.ErrorIs(t, err, orchestrator.ErrNotConnected)
	assert.Equal(t, "/a", orch.CurrentRoute())
}

func TestUnknownToolAndThought(t *testing.T) {
	orch, _, _, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)

	_, err := orch.OnToolInvocation("no-such-thought", "say", map[string]any{"text": "x"})
	assert.ErrorIs(t, err, orchestrator.ErrUnknownThought)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "t", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = orch.OnToolInvocation(id, "launch_rocket", nil)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownTool)

	_, err = orch.OnToolInvocation(id, "say", nil)
	assert.ErrorIs(t, err, orchestrator.ErrMissingArgument)
}

func TestAutoHintOnAdvance(t *testing.T) {
	archive := transcript.FromEntries([]transcript.Entry{
		{Route: "/a", Topic: "timeline", Timestamp: time.Now().Add(-24 * time.Hour)},
	})
	orch, frontend, _, runner := newTestOrchestrator(t, orchestrator.Config{HintCooldown: time.Hour}, archive)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	orch.SubmitUtterance("let me walk you through the pricing", time.Now())
	handle := runner.waitStarted(t)

	assert.Equal(t, []string{"pricing"}, orch.CoverageTopics("/a"))

	// Advancing while "timeline" is uncovered but was covered last session
	// fires the hint before the goto goes out.
	_, err := orch.OnToolInvocation(handle.ID, "next_slide", nil)
	require.NoError(t, err)

	hints := frontend.sentHints()
	require.Len(t, hints, 1)
	assert.Contains(t, hints[0], "timeline")
	assert.Equal(t, []string{"/b"}, frontend.sentGotos())
}

func TestNoHintWithoutPriorCoverage(t *testing.T) {
	orch, frontend, _, runner := newTestOrchestrator(t, orchestrator.Config{HintCooldown: time.Hour}, transcript.Empty())

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "moving on", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = orch.OnToolInvocation(id, "next_slide", nil)
	require.NoError(t, err)
	assert.Empty(t, frontend.sentHints())
}

func TestSlideDetailsTool(t *testing.T) {
	orch, _, _, runner := newTestOrchestrator(t, orchestrator.Config{}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "what's in the deck", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	result, err := orch.OnToolInvocation(id, "get_all_slide_details", nil)
	require.NoError(t, err)
	assert.Contains(t, result, "/a")
	assert.Contains(t, result, "/b")
	assert.Contains(t, result, "/c")
	assert.Contains(t, result, "pricing")
}

func TestOnSlideAdvanceRejectsUnknownRoute(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, orchestrator.Config{}, nil)
	err := orch.OnSlideAdvance("/nowhere")
	assert.ErrorIs(t, err, orchestrator.ErrUnknownRoute)
	assert.Equal(t, "", orch.CurrentRoute())
}

func TestReconnectPreservesCoverage(t *testing.T) {
	orch, _, _, runner := newTestOrchestrator(t, orchestrator.Config{MaxThoughts: 1}, nil)
	routes := []string{"/a", "/b", "/c"}

	orch.HandleConnection(routes, "/a")
	assert.Equal(t, "/a", orch.CurrentRoute())

	orch.SubmitUtterance("pricing is simple", time.Now())
	runner.waitStarted(t)
	assert.Equal(t, []string{"pricing"}, orch.CoverageTopics("/a"))

	// The frontend reloads and reconnects on the same slide. The session
	// keeps accumulated coverage instead of starting over.
	orch.HandleConnection(routes, "/a")
	assert.Equal(t, "/a", orch.CurrentRoute())
	assert.Equal(t, []string{"pricing"}, orch.CoverageTopics("/a"))
}

func TestFrontendWinsOnReconnectDivergence(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, orchestrator.Config{}, nil)

	orch.HandleConnection([]string{"/a", "/b", "/c"}, "/a")
	require.NoError(t, orch.OnSlideAdvance("/b"))

	// Reconnect reporting a different position: the frontend is the source
	// of truth for navigation.
	orch.HandleConnection([]string{"/a", "/b", "/c"}, "/c")
	assert.Equal(t, "/c", orch.CurrentRoute())
}

func TestHeartbeatResync(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, orchestrator.Config{}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	orch.HandleHeartbeat("/a")
	assert.Equal(t, "/a", orch.CurrentRoute())

	orch.HandleHeartbeat("/b")
	assert.Equal(t, "/b", orch.CurrentRoute())

	orch.HandleHeartbeat("/nowhere")
	assert.Equal(t, "/b", orch.CurrentRoute())
}

func TestHeartbeatAdvanceAuditedWithHeartbeatOrigin(t *testing.T) {
	recorder := &fakeRecorder{}
	orch := orchestrator.New(orchestrator.Config{}, testDeck(t), transcript.Empty(), &fakeFrontend{connected: true}, &fakeSpeaker{}, recorder, core.NewDevelopmentLogger())
	orch.SetRunner(newBlockingRunner())
	t.Cleanup(orch.Close)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	orch.HandleHeartbeat("/b")
	require.Equal(t, "/b", orch.CurrentRoute())

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.advances, 2)
	assert.Equal(t, "frontend", recorder.advances[0].Origin)
	assert.Equal(t, "heartbeat", recorder.advances[1].Origin)
}

func TestRevisitReopensCoverage(t *testing.T) {
	orch, _, _, runner := newTestOrchestrator(t, orchestrator.Config{MaxThoughts: 1}, nil)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	orch.SubmitUtterance("the timeline looks good", time.Now())
	runner.waitStarted(t)
	require.NoError(t, orch.OnSlideAdvance("/b"))
	require.NoError(t, orch.OnSlideAdvance("/a"))

	assert.Equal(t, []string{"timeline"}, orch.CoverageTopics("/a"))
}

func TestRecorderObservesInvocationsAndAdvances(t *testing.T) {
	recorder := &fakeRecorder{}
	frontend := &fakeFrontend{connected: true}
	runner := newBlockingRunner()
	orch := orchestrator.New(orchestrator.Config{}, testDeck(t), transcript.Empty(), frontend, &fakeSpeaker{}, recorder, core.NewDevelopmentLogger())
	orch.SetRunner(runner)
	t.Cleanup(orch.Close)

	require.NoError(t, orch.OnSlideAdvance("/a"))
	id, err := orch.StartThought(orchestrator.Trigger{Text: "go", Timestamp: time.Now()})
	require.NoError(t, err)
	runner.waitStarted(t)

	_, err = orch.OnToolInvocation(id, "next_slide", nil)
	require.NoError(t, err)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.advances, 2)
	assert.Equal(t, "frontend", recorder.advances[0].Origin)
	assert.Equal(t, "tool", recorder.advances[1].Origin)
	require.NotEmpty(t, recorder.invocations)
	assert.Equal(t, "next_slide", recorder.invocations[len(recorder.invocations)-1].Tool)
}

func TestSubmitAfterCloseIsIgnored(t *testing.T) {
	frontend := &fakeFrontend{connected: true}
	runner := newBlockingRunner()
	orch := orchestrator.New(orchestrator.Config{}, testDeck(t), transcript.Empty(), frontend, &fakeSpeaker{}, nil, core.NewDevelopmentLogger())
	orch.SetRunner(runner)

	orch.Close()
	orch.SubmitUtterance("too late", time.Now())
	assert.Equal(t, 0, orch.ActiveThoughtCount())
	assert.Equal(t, 0, orch.BufferedUtterances())

	_, err := orch.StartThought(orchestrator.Trigger{Text: "too late", Timestamp: time.Now()})
	assert.ErrorIs(t, err, orchestrator.ErrSessionClosed)
}
