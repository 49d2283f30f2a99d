package mentor

import (
	"sync"

	"github.com/ashureev/ax-mentor/internal/domain"
)

// Phase is the turn state of one step.
type Phase int

const (
	// PhaseIdle means no model call is in flight for the step.
	PhaseIdle Phase = iota
	// PhaseAwaiting means a model call has been issued and not yet finished.
	PhaseAwaiting
)

func (p Phase) String() string {
	if p == PhaseAwaiting {
		return "awaiting"
	}
	return "idle"
}

// State holds one session's transcripts and outputs for every step.
type State struct {
	mu          sync.Mutex
	transcripts map[domain.Step][]domain.Turn
	outputs     map[domain.Step]string
	phases      map[domain.Step]Phase
	generation  uint64
}

// NewState returns an empty state.
func NewState() *State {
	s := &State{}
	s.clear()
	return s
}

func (s *State) clear() {
	s.transcripts = make(map[domain.Step][]domain.Turn, len(domain.Steps()))
	s.outputs = make(map[domain.Step]string, len(domain.Steps()))
	s.phases = make(map[domain.Step]Phase, len(domain.Steps()))
	for _, step := range domain.Steps() {
		s.transcripts[step] = []domain.Turn{}
		s.outputs[step] = ""
		s.phases[step] = PhaseIdle
	}
}

// Reset clears every step. A turn still awaiting its reply is discarded when it finishes.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	s.generation++
}

// Transcript returns a copy of the step's turns.
func (s *State) Transcript(step domain.Step) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Turn(nil), s.transcripts[step]...)
}

// Output returns the step's latest output.
func (s *State) Output(step domain.Step) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[step]
}

// Outputs returns a copy of all outputs.
func (s *State) Outputs() map[domain.Step]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOutputs()
}

func (s *State) copyOutputs() map[domain.Step]string {
	out := make(map[domain.Step]string, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return out
}

// Phase returns the step's turn phase.
func (s *State) Phase(step domain.Step) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phases[step]
}

// StepView is a read-only rendering of one step.
type StepView struct {
	Step       domain.Step   `json:"step"`
	Label      string        `json:"label"`
	Transcript []domain.Turn `json:"transcript"`
	Output     string        `json:"output"`
	Busy       bool          `json:"busy"`
}

// View renders one step.
func (s *State) View(step domain.Step) StepView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StepView{
		Step:       step,
		Label:      step.Label(),
		Transcript: append([]domain.Turn{}, s.transcripts[step]...),
		Output:     s.outputs[step],
		Busy:       s.phases[step] == PhaseAwaiting,
	}
}

// Views renders every step in order.
func (s *State) Views() []StepView {
	views := make([]StepView, 0, len(domain.Steps()))
	for _, step := range domain.Steps() {
		views = append(views, s.View(step))
	}
	return views
}

// turnTicket identifies an in-flight turn.
type turnTicket struct {
	step       domain.Step
	generation uint64
}

// beginTurn appends the user turn, moves the step to Awaiting and returns the
// transcript and outputs the history is built from.
func (s *State) beginTurn(step domain.Step, prompt string) (turnTicket, []domain.Turn, map[domain.Step]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phases[step] == PhaseAwaiting {
		return turnTicket{}, nil, nil, ErrTurnInProgress
	}
	s.phases[step] = PhaseAwaiting
	s.transcripts[step] = append(s.transcripts[step], domain.Turn{Role: domain.RoleUser, Content: prompt})

	transcript := append([]domain.Turn(nil), s.transcripts[step]...)
	return turnTicket{step: step, generation: s.generation}, transcript, s.copyOutputs(), nil
}

// finishTurn records the assistant reply and, when present, the new output.
func (s *State) finishTurn(t turnTicket, reply string, output string, updateOutput bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.generation != s.generation {
		return ErrStateReset
	}
	s.transcripts[t.step] = append(s.transcripts[t.step], domain.Turn{Role: domain.RoleAssistant, Content: reply})
	if updateOutput {
		s.outputs[t.step] = output
	}
	s.phases[t.step] = PhaseIdle
	return nil
}

// abortTurn returns the step to Idle without recording a reply.
func (s *State) abortTurn(t turnTicket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.generation == s.generation {
		s.phases[t.step] = PhaseIdle
	}
}
