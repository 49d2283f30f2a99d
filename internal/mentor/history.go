package mentor

import (
	"github.com/ashureev/ax-mentor/internal/domain"
	"github.com/ashureev/ax-mentor/internal/llm"
)

const (
	instructionAck = "네, 알겠습니다. 주어진 역할과 지시사항에 따라 멘토링을 진행하겠습니다."
	contextPrefix  = "참고할 이전 단계 데이터입니다:\n"
	contextAck     = "네, 이전 단계 데이터를 참고하여 답변하겠습니다."
)

// providerRole maps a transcript role onto the model's vocabulary.
func providerRole(r domain.Role) llm.Role {
	switch r {
	case domain.RoleUser:
		return llm.RoleUser
	case domain.RoleAssistant:
		return llm.RoleModel
	}
	panic("mentor: unknown role " + string(r))
}

// BuildHistory assembles the message sequence sent to the model: the priming
// pair, the optional context pair, then the transcript in order.
func BuildHistory(instruction, context string, transcript []domain.Turn) []llm.Message {
	history := make([]llm.Message, 0, len(transcript)+4)
	history = append(history,
		llm.Message{Role: llm.RoleUser, Text: instruction},
		llm.Message{Role: llm.RoleModel, Text: instructionAck},
	)
	if context != "" {
		history = append(history,
			llm.Message{Role: llm.RoleUser, Text: contextPrefix + context},
			llm.Message{Role: llm.RoleModel, Text: contextAck},
		)
	}
	for _, turn := range transcript {
		history = append(history, llm.Message{Role: providerRole(turn.Role), Text: turn.Content})
	}
	return history
}
