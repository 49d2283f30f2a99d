// Package llm is the boundary to the hosted generation API.
package llm

import (
	"context"
	"errors"
	"iter"
)

var (
	// ErrMissingAPIKey is returned when no credential is configured for a session.
	ErrMissingAPIKey = errors.New("google api key is not configured")
	// ErrSafetyBlocked is returned when the provider refuses to produce content.
	ErrSafetyBlocked = errors.New("response blocked by safety filter")
)

// Role is the provider-side author vocabulary.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of the history sent to the model.
type Message struct {
	Role Role
	Text string
}

// Request describes a single streamed generation.
type Request struct {
	Model   string
	History []Message
	Prompt  string
}

// Client defines the operations the server needs from a model provider.
type Client interface {
	// GenerateStream yields text fragments as the model produces them.
	GenerateStream(ctx context.Context, req Request) iter.Seq2[string, error]

	// ListModels returns identifiers of models that support content generation.
	ListModels(ctx context.Context) ([]string, error)
}

// Ensure GeminiClient implements Client.
var _ Client = (*GeminiClient)(nil)
