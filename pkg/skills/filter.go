package skills

import (
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// FilterByAllowlist keeps the skills whose name matches one of the glob
// patterns. An empty allowlist keeps every skill. Warnings are carried over.
func FilterByAllowlist(catalogue *Catalogue, allowed []string) (*Catalogue, error) {
	if catalogue == nil || len(allowed) == 0 {
		return catalogue, nil
	}

	patterns := make([]glob.Glob, 0, len(allowed))
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "invalid skill allowlist pattern %q", pattern)
		}
		patterns = append(patterns, g)
	}

	kept := catalogue.filter(func(s *Skill) bool {
		for _, g := range patterns {
			if g.Match(s.Name) {
				return true
			}
		}
		return false
	})

	return newCatalogue(kept, catalogue.warnings), nil
}
