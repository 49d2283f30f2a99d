package domain

// Role identifies the author of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single chat message in a step's transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
