package execute

import (
	"fmt"
	"strings"

	"github.com/codalotl/agentconform/internal/scenario"
)

// BuildPrompt synthesizes the instruction sent to the agent for def. It names the required and
// optional skills, the analysis type, and the candidate action phrases, plus domain hints when
// the scenario runs on a fixture.
func BuildPrompt(def scenario.Definition) string {
	lines := []string{
		fmt.Sprintf("Conformance scenario %s: %s.", def.ID, def.Title),
		fmt.Sprintf("Use and explicitly reference all required skills: %s.", strings.Join(def.AnchorSkills, ", ")),
	}
	if len(def.OptionalSkills) > 0 {
		lines = append(lines, fmt.Sprintf("Optional skills (use when relevant): %s.", strings.Join(def.OptionalSkills, ", ")))
	}
	lines = append(lines,
		fmt.Sprintf("The analysis_type must align to: %s.", def.AnalysisType),
		"Produce concrete findings and practical remediation steps.",
	)
	if len(def.ExpectedActions) > 0 {
		lines = append(lines, fmt.Sprintf("In actions_taken, include concrete action phrases and include at least one of: %s.",
			strings.Join(def.ExpectedActions, " | ")))
	}

	if def.HasFixture() {
		lines = append(lines, fmt.Sprintf("This scenario runs on a local fixture (%s) in the current working directory.", def.Fixture))
		if len(def.DomainKeywords) > 0 {
			lines = append(lines, fmt.Sprintf("Inspect project files and execute relevant commands so trace events include domain hints like: %s.",
				strings.Join(def.DomainKeywords, ", ")))
		}
	} else {
		lines = append(lines, "This scenario does not require a local fixture workspace.")
	}
	return strings.Join(lines, "\n")
}
