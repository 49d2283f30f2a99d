// Package prompt holds the system instructions for each mentoring step.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/ax-mentor/internal/domain"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Registry maps each step to its system instruction.
type Registry struct {
	instructions map[domain.Step]string
}

// Default returns the registry built from the embedded prompts.
func Default() (*Registry, error) {
	return Parse(defaultPrompts)
}

// Load reads prompts from path, or the embedded defaults when path is empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document keyed by step identifier.
func Parse(data []byte) (*Registry, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}

	r := &Registry{instructions: make(map[domain.Step]string, len(raw))}
	for id, text := range raw {
		step, err := domain.ParseStep(id)
		if err != nil {
			return nil, fmt.Errorf("prompts: %w", err)
		}
		r.instructions[step] = strings.TrimSpace(text)
	}

	for _, step := range domain.Steps() {
		if r.instructions[step] == "" {
			return nil, fmt.Errorf("prompts: missing instruction for step %q", step)
		}
	}
	return r, nil
}

// Instruction returns the system instruction for step.
// Passing a step outside domain.Steps is a programming error.
func (r *Registry) Instruction(step domain.Step) string {
	text, ok := r.instructions[step]
	if !ok {
		panic("prompt: no instruction for step " + string(step))
	}
	return text
}
