package mentor

import (
	"strings"

	"github.com/ashureev/ax-mentor/internal/domain"
)

// priorSteps lists, per step, the earlier steps whose outputs feed its context.
var priorSteps = map[domain.Step][]domain.Step{
	domain.StepMarket:   nil,
	domain.StepProblem:  {domain.StepMarket},
	domain.StepSolution: {domain.StepMarket, domain.StepProblem},
}

// BuildContext returns the reference text quoting earlier steps' outputs.
// Empty outputs are skipped; the result is "" when nothing applies.
func BuildContext(step domain.Step, outputs map[domain.Step]string) string {
	var sb strings.Builder
	for _, prior := range priorSteps[step] {
		out := outputs[prior]
		if out == "" {
			continue
		}
		sb.WriteString("\n[이전 단계(")
		sb.WriteString(prior.Title())
		sb.WriteString(") 결과]\n")
		sb.WriteString(out)
		sb.WriteString("\n")
	}
	return sb.String()
}
