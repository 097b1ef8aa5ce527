package enrich

import (
	"strings"

	"github.com/vulnsight/cverag/engine/domain"
)

const framingLine = "You are a security analyst performing vulnerability analysis on the evidence below."

const outputInstruction = `Return ONLY valid JSON with exactly two string keys, "attack_scenario" and "mitigation", and nothing else.`

// BuildPrompt renders the evidence for one vulnerability. Output is a pure
// function of id and rec, so identical evidence always yields an identical
// prompt.
func BuildPrompt(id string, rec *domain.VulnerabilityRecord) string {
	var b strings.Builder
	b.WriteString(framingLine)
	b.WriteByte('\n')
	b.WriteString("CVE ID: ")
	b.WriteString(id)
	b.WriteByte('\n')
	b.WriteString("Severity: ")
	b.WriteString(rec.Severity.String())
	b.WriteByte('\n')
	rec.Sections.Each(func(name string, s domain.Section) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(s.Content)
		b.WriteByte('\n')
	})
	b.WriteByte('\n')
	b.WriteString(outputInstruction)
	return b.String()
}
