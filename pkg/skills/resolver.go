package skills

import "strings"

// Activate returns the skills to inject for a task described by contextText,
// in catalogue order: every always-active skill, plus every triggered skill
// with a keyword occurring case-insensitively in contextText.
func Activate(catalogue *Catalogue, contextText string) []*Skill {
	if catalogue == nil {
		return nil
	}

	lowered := strings.ToLower(contextText)
	var active []*Skill
	for _, skill := range catalogue.skills {
		if skill.matchesLowered(lowered) {
			active = append(active, skill)
		}
	}
	return active
}

// Activate is shorthand for Activate(c, contextText)
func (c *Catalogue) Activate(contextText string) []*Skill {
	return Activate(c, contextText)
}
