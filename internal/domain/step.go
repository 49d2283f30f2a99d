package domain

import "fmt"

// Step is one of the fixed mentoring stages.
type Step string

const (
	// StepMarket is the market research stage.
	StepMarket Step = "market"
	// StepProblem is the problem definition stage.
	StepProblem Step = "problem"
	// StepSolution is the solution design stage.
	StepSolution Step = "solution"
)

// Steps returns every step in mentoring order.
func Steps() []Step {
	return []Step{StepMarket, StepProblem, StepSolution}
}

// ParseStep converts an identifier into a Step.
func ParseStep(id string) (Step, error) {
	s := Step(id)
	if !s.Valid() {
		return "", fmt.Errorf("unknown step %q", id)
	}
	return s, nil
}

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepMarket, StepProblem, StepSolution:
		return true
	}
	return false
}

// Label is the sidebar label shown for the step.
func (s Step) Label() string {
	switch s {
	case StepMarket:
		return "1. 시장조사"
	case StepProblem:
		return "2. 문제정의"
	case StepSolution:
		return "3. 해결책"
	}
	return string(s)
}

// Title is the short stage name used when a step's output is quoted as context.
func (s Step) Title() string {
	switch s {
	case StepMarket:
		return "시장조사"
	case StepProblem:
		return "문제정의"
	case StepSolution:
		return "해결책"
	}
	return string(s)
}
