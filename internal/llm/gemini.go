package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"google.golang.org/genai"
)

const generateContentAction = "generateContent"

// blockedFinishReasons are candidate finish reasons that mean the provider
// withheld the content.
var blockedFinishReasons = []string{"SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII"}

// GeminiClient talks to the Gemini API with one credential.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a client bound to apiKey.
func NewGeminiClient(ctx context.Context, apiKey string, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{client: client, logger: logger}, nil
}

// SafetySettings disables the four standard content filters.
func SafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}

// contentsFor converts the history plus the new prompt into provider contents.
// The prompt is sent after the history the same way a chat session appends it.
func contentsFor(req Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, &genai.Content{
			Role:  string(m.Role),
			Parts: []*genai.Part{{Text: m.Text}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  string(RoleUser),
		Parts: []*genai.Part{{Text: req.Prompt}},
	})
	return contents
}

// chunkText extracts visible text from a streamed response chunk.
// It reports ErrSafetyBlocked when the chunk carries no text and was blocked.
func chunkText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", nil
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: finish_reason=%s", ErrSafetyBlocked, resp.PromptFeedback.BlockReason)
	}

	var sb strings.Builder
	var blockedBy string
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if slices.Contains(blockedFinishReasons, string(cand.FinishReason)) {
			blockedBy = string(cand.FinishReason)
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}

	if sb.Len() == 0 && blockedBy != "" {
		return "", fmt.Errorf("%w: finish_reason=%s", ErrSafetyBlocked, blockedBy)
	}
	return sb.String(), nil
}

// GenerateStream streams a completion for req.
func (c *GeminiClient) GenerateStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.logger.Debug("Gemini stream request",
			"model", req.Model,
			"history_len", len(req.History),
			"prompt_length", len(req.Prompt),
		)

		cfg := &genai.GenerateContentConfig{SafetySettings: SafetySettings()}
		for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, contentsFor(req), cfg) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream error: %w", err))
				return
			}
			text, err := chunkText(resp)
			if err != nil {
				yield("", err)
				return
			}
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// ListModels returns every model name that supports generateContent.
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list models: %w", err)
		}
		if m == nil {
			continue
		}
		if slices.Contains(m.SupportedActions, generateContentAction) {
			names = append(names, m.Name)
		}
	}
	return names, nil
}
