// Package mentor implements the step-by-step mentoring conversation: per-session
// state, context hand-off between steps, and output extraction from replies.
package mentor

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/llm"
	"github.com/ashureev/ax-mentor/internal/prompt"
)

// EmptyReplyFallback replaces a reply whose stream produced no text.
const EmptyReplyFallback = "죄송합니다. 응답을 생성하는 중 문제가 발생했습니다. 질문을 다시 입력해 주시거나, 다른 방식으로 표현해 주세요."

// Generator streams model output. It is satisfied by llm.Client.
type Generator interface {
	GenerateStream(ctx context.Context, req llm.Request) iter.Seq2[string, error]
}

// TurnRequest is one user submission.
type TurnRequest struct {
	Step   domain.Step
	Prompt string
	Model  string
	// OnDelta, when set, receives each non-empty fragment as it arrives.
	OnDelta func(fragment string)
}

// TurnResult describes a completed turn.
type TurnResult struct {
	Step          domain.Step `json:"step"`
	Reply         string      `json:"reply"`
	Output        string      `json:"output"`
	OutputUpdated bool        `json:"output_updated"`
	Raw           string      `json:"-"`
	Fallback      bool        `json:"fallback,omitempty"`
}

// Service runs turns against a State.
type Service struct {
	prompts *prompt.Registry
	logger  *slog.Logger
}

// NewService creates a turn service.
func NewService(prompts *prompt.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{prompts: prompts, logger: logger}
}

// Execute runs one turn to completion.
//
// Provider failures are returned as *TurnError and leave only the user turn
// recorded. ErrTurnInProgress is returned without touching the state.
func (s *Service) Execute(ctx context.Context, gen Generator, st *State, req TurnRequest) (*TurnResult, error) {
	if !req.Step.Valid() {
		return nil, errors.New("mentor: unknown step " + string(req.Step))
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	ticket, transcript, outputs, err := st.beginTurn(req.Step, req.Prompt)
	if err != nil {
		return nil, err
	}

	history := BuildHistory(s.prompts.Instruction(req.Step), BuildContext(req.Step, outputs), transcript)

	var full strings.Builder
	for fragment, err := range gen.GenerateStream(ctx, llm.Request{
		Model:   req.Model,
		History: history,
		Prompt:  req.Prompt,
	}) {
		if err != nil {
			st.abortTurn(ticket)
			kind := classifyFailure(err)
			s.logger.Warn("Turn aborted by provider failure",
				"step", req.Step,
				"kind", kind,
				"error", err,
			)
			return nil, &TurnError{Step: req.Step, Kind: kind, Err: err}
		}
		if fragment == "" {
			continue
		}
		full.WriteString(fragment)
		if req.OnDelta != nil {
			req.OnDelta(fragment)
		}
	}

	result := &TurnResult{Step: req.Step, Raw: full.String()}
	if result.Raw == "" {
		result.Raw = EmptyReplyFallback
		result.Fallback = true
	}

	output, remaining, found := Parse(result.Raw)
	result.Reply = remaining
	result.OutputUpdated = found && output != ""
	if err := st.finishTurn(ticket, remaining, output, result.OutputUpdated); err != nil {
		return nil, err
	}

	if result.OutputUpdated {
		result.Output = output
	} else {
		result.Output = st.Output(req.Step)
	}

	s.logger.Debug("Turn completed",
		"step", req.Step,
		"reply_length", len(remaining),
		"output_updated", result.OutputUpdated,
		"fallback", result.Fallback,
	)
	return result, nil
}
