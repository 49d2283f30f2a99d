package mentor

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/llm"
	"github.com/ashureev/ax-mentor/internal/prompt"
)

// --- fake generator ---

type fakeGenerator struct {
	mu        sync.Mutex
	fragments []string
	err       error
	release   chan struct{}
	requests  []llm.Request
}

func (f *fakeGenerator) GenerateStream(_ context.Context, req llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.mu.Lock()
		f.requests = append(f.requests, req)
		fragments, err, release := f.fragments, f.err, f.release
		f.mu.Unlock()

		if release != nil {
			<-release
		}
		for _, fr := range fragments {
			if !yield(fr, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func (f *fakeGenerator) lastRequest(t *testing.T) llm.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	reg, err := prompt.Parse([]byte("market: MARKET-PROMPT\nproblem: PROBLEM-PROMPT\nsolution: SOLUTION-PROMPT\n"))
	require.NoError(t, err)
	return NewService(reg, nil)
}

func TestExecuteEndToEndMarket(t *testing.T) {
	svc := newTestService(t)
	st := NewState()
	gen := &fakeGenerator{fragments: []string{
		"Sure, here is...",
		"[[OUTPUT]]Market: snacks, $2B TAM[[/OUTPUT]] Let me know if you need more.",
	}}

	res, err := svc.Execute(context.Background(), gen, st, TurnRequest{
		Step:   domain.StepMarket,
		Prompt: "analyze the snack market",
		Model:  "gemini-test",
	})
	require.NoError(t, err)

	transcript := st.Transcript(domain.StepMarket)
	require.Len(t, transcript, 2)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "analyze the snack market"}, transcript[0])
	assert.Equal(t, domain.RoleAssistant, transcript[1].Role)
	assert.Equal(t, "Sure, here is... Let me know if you need more.", transcript[1].Content)
	assert.NotContains(t, transcript[1].Content, OutputOpen)

	assert.Equal(t, "Market: snacks, $2B TAM", st.Output(domain.StepMarket))
	assert.True(t, res.OutputUpdated)
	assert.Equal(t, "Market: snacks, $2B TAM", res.Output)
	assert.Equal(t, PhaseIdle, st.Phase(domain.StepMarket))

	req := gen.lastRequest(t)
	assert.Equal(t, "gemini-test", req.Model)
	assert.Equal(t, "analyze the snack market", req.Prompt)
}

func TestExecuteHistoryOrderWithoutContext(t *testing.T) {
	svc := newTestService(t)
	st := NewState()
	gen := &fakeGenerator{fragments: []string{"hello"}}

	_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepProblem, Prompt: "hi"})
	require.NoError(t, err)

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Text: "PROBLEM-PROMPT"},
		{Role: llm.RoleModel, Text: instructionAck},
		{Role: llm.RoleUser, Text: "hi"},
	}, gen.lastRequest(t).History)
}

func TestExecuteHistoryIncludesContextAndTranscript(t *testing.T) {
	svc := newTestService(t)
	st := NewState()

	gen := &fakeGenerator{fragments: []string{"[[OUTPUT]]M-DOC[[/OUTPUT]]"}}
	_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "m"})
	require.NoError(t, err)

	gen.fragments = []string{"first answer"}
	_, err = svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepProblem, Prompt: "p1"})
	require.NoError(t, err)

	gen.fragments = []string{"second answer"}
	_, err = svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepProblem, Prompt: "p2"})
	require.NoError(t, err)

	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Text: "PROBLEM-PROMPT"},
		{Role: llm.RoleModel, Text: instructionAck},
		{Role: llm.RoleUser, Text: contextPrefix + "\n[이전 단계(시장조사) 결과]\nM-DOC\n"},
		{Role: llm.RoleModel, Text: contextAck},
		{Role: llm.RoleUser, Text: "p1"},
		{Role: llm.RoleModel, Text: "first answer"},
		{Role: llm.RoleUser, Text: "p2"},
	}, gen.lastRequest(t).History)
}

func TestExecuteOutputIsSticky(t *testing.T) {
	svc := newTestService(t)
	st := NewState()

	gen := &fakeGenerator{fragments: []string{"[[OUTPUT]]old[[/OUTPUT]]"}}
	_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepSolution, Prompt: "one"})
	require.NoError(t, err)
	require.Equal(t, "old", st.Output(domain.StepSolution))

	gen.fragments = []string{"just chatting"}
	res, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepSolution, Prompt: "two"})
	require.NoError(t, err)

	assert.Equal(t, "old", st.Output(domain.StepSolution))
	assert.False(t, res.OutputUpdated)
	assert.Equal(t, "old", res.Output)
}

func TestExecuteEmptyBlockKeepsOutput(t *testing.T) {
	svc := newTestService(t)
	st := NewState()

	gen := &fakeGenerator{fragments: []string{"[[OUTPUT]]old[[/OUTPUT]]"}}
	_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "one"})
	require.NoError(t, err)

	gen.fragments = []string{"done [[OUTPUT]] [[/OUTPUT]]"}
	_, err = svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "two"})
	require.NoError(t, err)

	assert.Equal(t, "old", st.Output(domain.StepMarket))
	assert.Equal(t, "done", st.Transcript(domain.StepMarket)[3].Content)
}

func TestExecuteEmptyStreamUsesFallback(t *testing.T) {
	svc := newTestService(t)
	st := NewState()
	gen := &fakeGenerator{fragments: []string{"", ""}}

	res, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "hello"})
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	assert.Equal(t, EmptyReplyFallback, res.Reply)
	transcript := st.Transcript(domain.StepMarket)
	require.Len(t, transcript, 2)
	assert.Equal(t, EmptyReplyFallback, transcript[1].Content)
	assert.Empty(t, st.Output(domain.StepMarket))
}

func TestExecuteProviderFailureKeepsUserTurnOnly(t *testing.T) {
	svc := newTestService(t)
	st := NewState()

	gen := &fakeGenerator{fragments: []string{"[[OUTPUT]]old[[/OUTPUT]]"}}
	_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "one"})
	require.NoError(t, err)

	gen.fragments = []string{"partial "}
	gen.err = errors.New("503 service unavailable")
	_, err = svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "two"})

	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, FailureProvider, turnErr.Kind)
	assert.Equal(t, "Error: 503 service unavailable", turnErr.UserMessage())

	transcript := st.Transcript(domain.StepMarket)
	require.Len(t, transcript, 3)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "two"}, transcript[2])
	assert.Equal(t, "old", st.Output(domain.StepMarket))
	assert.Equal(t, PhaseIdle, st.Phase(domain.StepMarket))

	// The conversation can continue after the failure.
	gen.fragments = []string{"recovered"}
	gen.err = nil
	_, err = svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "three"})
	require.NoError(t, err)
	assert.Len(t, st.Transcript(domain.StepMarket), 5)
}

func TestExecuteClassifiesSafetyFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"typed", llm.ErrSafetyBlocked, FailureSafety},
		{"wrapped", errors.Join(errors.New("stream"), llm.ErrSafetyBlocked), FailureSafety},
		{"finish reason text", errors.New("invalid finish_reason 3"), FailureSafety},
		{"valid part text", errors.New("response did not contain a valid Part"), FailureSafety},
		{"generic", errors.New("connection reset"), FailureProvider},
		{"permission denied", errors.New("Error 403, Message: Requests to this API method google.ai.generativelanguage.v1beta.GenerativeService.StreamGenerateContent are blocked., Status: PERMISSION_DENIED"), FailureProvider},
		{"safety word in quota error", errors.New("quota exceeded for SAFETY settings project"), FailureProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t)
			st := NewState()
			gen := &fakeGenerator{err: tt.err}

			_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "x"})
			var turnErr *TurnError
			require.ErrorAs(t, err, &turnErr)
			assert.Equal(t, tt.want, turnErr.Kind)
			if tt.want == FailureSafety {
				assert.Equal(t, safetyBlockedMessage, turnErr.UserMessage())
			} else {
				assert.Equal(t, "Error: "+tt.err.Error(), turnErr.UserMessage())
			}
		})
	}
}

func TestExecuteRejectsEmptyPrompt(t *testing.T) {
	svc := newTestService(t)
	st := NewState()

	_, err := svc.Execute(context.Background(), &fakeGenerator{}, st, TurnRequest{Step: domain.StepMarket, Prompt: "   "})
	require.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, st.Transcript(domain.StepMarket))
}

func TestExecuteDeltasConcatenateToRaw(t *testing.T) {
	svc := newTestService(t)
	st := NewState()
	gen := &fakeGenerator{fragments: []string{"a", "", "b", "[[OUTPUT]]c[[/OUTPUT]]"}}

	var deltas []string
	res, err := svc.Execute(context.Background(), gen, st, TurnRequest{
		Step:    domain.StepMarket,
		Prompt:  "go",
		OnDelta: func(s string) { deltas = append(deltas, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "[[OUTPUT]]c[[/OUTPUT]]"}, deltas)
	assert.Equal(t, strings.Join(deltas, ""), res.Raw)
}

func TestExecuteRejectsConcurrentTurnOnSameStep(t *testing.T) {
	svc := newTestService(t)
	st := NewState()
	release := make(chan struct{})
	gen := &fakeGenerator{fragments: []string{"slow"}, release: release}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "first"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return st.Phase(domain.StepMarket) == PhaseAwaiting
	}, time.Second, time.Millisecond)

	_, err := svc.Execute(context.Background(), &fakeGenerator{}, st, TurnRequest{Step: domain.StepMarket, Prompt: "second"})
	require.ErrorIs(t, err, ErrTurnInProgress)

	// Other steps are independent.
	_, err = svc.Execute(context.Background(), &fakeGenerator{fragments: []string{"ok"}}, st, TurnRequest{Step: domain.StepProblem, Prompt: "other"})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, st.Transcript(domain.StepMarket), 2)
}

func TestExecuteDiscardsReplyAfterReset(t *testing.T) {
	svc := newTestService(t)
	st := NewState()
	release := make(chan struct{})
	gen := &fakeGenerator{fragments: []string{"[[OUTPUT]]late[[/OUTPUT]]"}, release: release}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: domain.StepMarket, Prompt: "first"})
		done <- err
	}()

	require.Eventually(t, func() bool {
		return st.Phase(domain.StepMarket) == PhaseAwaiting
	}, time.Second, time.Millisecond)

	st.Reset()
	close(release)

	require.ErrorIs(t, <-done, ErrStateReset)
	assert.Empty(t, st.Transcript(domain.StepMarket))
	assert.Empty(t, st.Output(domain.StepMarket))
}

func TestExecuteReplayIsDeterministic(t *testing.T) {
	prompts := []struct {
		step   domain.Step
		prompt string
		reply  []string
	}{
		{domain.StepMarket, "snacks", []string{"[[OUTPUT]]M[[/OUTPUT]]ok"}},
		{domain.StepMarket, "more", []string{"sure"}},
		{domain.StepProblem, "pain", []string{"[[OUTPUT]]P[[/OUTPUT]]"}},
		{domain.StepSolution, "build", []string{"idea ", "[[OUTPUT]]S[[/OUTPUT]]"}},
	}

	run := func() *State {
		svc := newTestService(t)
		st := NewState()
		for _, p := range prompts {
			gen := &fakeGenerator{fragments: p.reply}
			_, err := svc.Execute(context.Background(), gen, st, TurnRequest{Step: p.step, Prompt: p.prompt})
			require.NoError(t, err)
		}
		return st
	}

	a, b := run(), run()
	assert.Equal(t, a.Views(), b.Views())
	assert.Equal(t, a.Outputs(), b.Outputs())
}
