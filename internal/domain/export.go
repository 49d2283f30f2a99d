package domain

import (
	"time"
)

// Export is an archived copy of a step's output document.
type Export struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Step      Step      `json:"step"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Filename returns the download name for the export.
func (e *Export) Filename() string {
	return string(e.Step) + "-" + e.CreatedAt.UTC().Format("20060102-150405") + ".md"
}

// Markdown renders the export as a standalone markdown document.
func (e *Export) Markdown() string {
	return "# " + e.Step.Label() + "\n\n" + e.Content + "\n"
}
