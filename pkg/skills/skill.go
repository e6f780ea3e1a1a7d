// Package skills discovers operator-authored knowledge documents in a
// workspace and turns them into a catalogue of skills. A skill without
// triggers is always injected into the agent's context; a skill with
// triggers is only activated when the task mentions one of them.
//
// Documents are markdown files, optionally prefixed with YAML frontmatter
// carrying a name override and trigger keywords. All workspace access goes
// through a workspace.Executor so the same loader serves local checkouts and
// remote sandboxes.
package skills

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Skill represents a loaded skill. It is never modified after the load that
// produced it.
type Skill struct {
	Name        string   `json:"name" yaml:"name"`                                   // Unique name in the catalogue
	Description string   `json:"description,omitempty" yaml:"description,omitempty"` // Optional one-liner from frontmatter
	Triggers    []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`       // nil means always active
	Content     string   `json:"content" yaml:"content"`                             // Document body without frontmatter
	Path        string   `json:"path" yaml:"path"`                                   // Document path inside the workspace

	source string
}

// Metadata represents the recognized frontmatter fields of a skill document
type Metadata struct {
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Triggers    []string `mapstructure:"triggers"`
}

// AlwaysActive reports whether the skill is part of every task's context
func (s *Skill) AlwaysActive() bool {
	return s.Triggers == nil
}

// Type returns "repo" for always-active skills and "knowledge" for triggered ones
func (s *Skill) Type() string {
	if s.AlwaysActive() {
		return "repo"
	}
	return "knowledge"
}

// Matches reports whether the skill should be activated for contextText
func (s *Skill) Matches(contextText string) bool {
	return s.matchesLowered(strings.ToLower(contextText))
}

func (s *Skill) matchesLowered(lowered string) bool {
	if s.AlwaysActive() {
		return true
	}
	for _, trigger := range s.Triggers {
		if strings.Contains(lowered, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// ReadError records a document that could not be read. It is a warning:
// the load carries on without that document.
type ReadError struct {
	Path     string
	ExitCode int
	Err      error
}

func (e *ReadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("failed to read %s: exit code %d", e.Path, e.ExitCode)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Catalogue is the ordered, de-duplicated set of skills produced by one load
type Catalogue struct {
	skills   []*Skill
	byName   map[string]*Skill
	warnings []error
}

func newCatalogue(skills []*Skill, warnings []error) *Catalogue {
	byName := make(map[string]*Skill, len(skills))
	for _, s := range skills {
		byName[s.Name] = s
	}
	return &Catalogue{
		skills:   skills,
		byName:   byName,
		warnings: warnings,
	}
}

// Skills returns all skills in catalogue order
func (c *Catalogue) Skills() []*Skill {
	if c == nil {
		return nil
	}
	return append([]*Skill(nil), c.skills...)
}

// Len returns the number of skills
func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.skills)
}

// Get returns the skill with the given name
func (c *Catalogue) Get(name string) (*Skill, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.byName[name]
	return s, ok
}

// Names returns skill names in catalogue order
func (c *Catalogue) Names() []string {
	if c == nil || len(c.skills) == 0 {
		return nil
	}
	names := make([]string, len(c.skills))
	for i, s := range c.skills {
		names[i] = s.Name
	}
	return names
}

// AlwaysActive returns the repo-context skills
func (c *Catalogue) AlwaysActive() []*Skill {
	return c.filter(func(s *Skill) bool { return s.AlwaysActive() })
}

// Triggered returns the skills that only activate on a keyword match
func (c *Catalogue) Triggered() []*Skill {
	return c.filter(func(s *Skill) bool { return !s.AlwaysActive() })
}

func (c *Catalogue) filter(keep func(*Skill) bool) []*Skill {
	if c == nil {
		return nil
	}
	var out []*Skill
	for _, s := range c.skills {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// Warnings returns the non-fatal per-document failures of the load
func (c *Catalogue) Warnings() []error {
	if c == nil {
		return nil
	}
	return append([]error(nil), c.warnings...)
}

// Warning aggregates Warnings into a single error, nil when the load was clean
func (c *Catalogue) Warning() error {
	if c == nil || len(c.warnings) == 0 {
		return nil
	}
	var result *multierror.Error
	for _, w := range c.warnings {
		result = multierror.Append(result, w)
	}
	return result.ErrorOrNil()
}
