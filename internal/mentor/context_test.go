package mentor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/ax-mentor/internal/domain"
)

func TestBuildContextMarketHasNoContext(t *testing.T) {
	outputs := map[domain.Step]string{domain.StepMarket: "M", domain.StepProblem: "P"}
	assert.Empty(t, BuildContext(domain.StepMarket, outputs))
}

func TestBuildContextProblem(t *testing.T) {
	got := BuildContext(domain.StepProblem, map[domain.Step]string{domain.StepMarket: "M"})
	assert.Equal(t, "\n[이전 단계(시장조사) 결과]\nM\n", got)

	assert.Empty(t, BuildContext(domain.StepProblem, map[domain.Step]string{domain.StepMarket: ""}))
}

func TestBuildContextProblemIgnoresLaterOutputs(t *testing.T) {
	got := BuildContext(domain.StepProblem, map[domain.Step]string{domain.StepSolution: "S"})
	assert.Empty(t, got)
}

func TestBuildContextSolutionOrdersMarketFirst(t *testing.T) {
	outputs := map[domain.Step]string{domain.StepMarket: "M", domain.StepProblem: "P"}
	got := BuildContext(domain.StepSolution, outputs)

	assert.Equal(t, "\n[이전 단계(시장조사) 결과]\nM\n\n[이전 단계(문제정의) 결과]\nP\n", got)
	assert.Less(t, strings.Index(got, "시장조사"), strings.Index(got, "문제정의"))
}

func TestBuildContextSolutionSkipsEmpty(t *testing.T) {
	got := BuildContext(domain.StepSolution, map[domain.Step]string{domain.StepProblem: "P"})
	assert.Equal(t, "\n[이전 단계(문제정의) 결과]\nP\n", got)
}

func TestBuildContextDoesNotMutate(t *testing.T) {
	outputs := map[domain.Step]string{domain.StepMarket: "M", domain.StepProblem: "P"}
	BuildContext(domain.StepSolution, outputs)
	assert.Equal(t, map[domain.Step]string{domain.StepMarket: "M", domain.StepProblem: "P"}, outputs)
}
