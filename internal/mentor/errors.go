package mentor

import (
	"errors"
	"strings"

	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/llm"
)

var (
	// ErrEmptyPrompt is returned when the submitted text is blank.
	ErrEmptyPrompt = errors.New("message is required")
	// ErrTurnInProgress is returned when the step is already awaiting a reply.
	ErrTurnInProgress = errors.New("a turn is already in progress for this step")
	// ErrStateReset is returned when the session was reset while the turn was awaiting a reply.
	ErrStateReset = errors.New("session was reset during the turn")
)

// FailureKind classifies a provider failure for the user.
type FailureKind string

const (
	FailureSafety   FailureKind = "safety_blocked"
	FailureProvider FailureKind = "provider_error"
)

const safetyBlockedMessage = "⚠️ AI 응답이 안전 필터에 의해 차단되었거나 생성되지 않았습니다. 질문을 다르게 표현해 주세요."

// safetyIndicators are substrings of untyped provider errors raised when a
// candidate came back without usable text.
var safetyIndicators = []string{"finish_reason", "valid Part"}

// TurnError reports a provider failure that aborted a turn.
// The user's message stays in the transcript; nothing else changed.
type TurnError struct {
	Step domain.Step
	Kind FailureKind
	Err  error
}

func (e *TurnError) Error() string {
	return "turn " + string(e.Step) + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the user for this failure.
func (e *TurnError) UserMessage() string {
	if e.Kind == FailureSafety {
		return safetyBlockedMessage
	}
	return "Error: " + e.Err.Error()
}

// classifyFailure decides whether err means the content was blocked.
func classifyFailure(err error) FailureKind {
	if errors.Is(err, llm.ErrSafetyBlocked) {
		return FailureSafety
	}
	msg := err.Error()
	for _, ind := range safetyIndicators {
		if strings.Contains(msg, ind) {
			return FailureSafety
		}
	}
	return FailureProvider
}
