package skills

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/skillet/pkg/logger"
	"github.com/jingkaihe/skillet/pkg/telemetry"
	"github.com/jingkaihe/skillet/pkg/workspace"
)

// Priorities of the default source roots; lower loads first and wins collisions
const (
	PriorityRepo   = 0
	PriorityGlobal = 10
)

// SourceRoot is a directory scanned for skills
type SourceRoot struct {
	Path     string
	Priority int
	Name     string // optional label, e.g. "repo" or "global"
}

// Key identifies the root in logs and precedence bookkeeping
func (r SourceRoot) Key() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Path
}

// DefaultSourceRoots returns the repository root followed by the user's home
// directory, so repo-local skills shadow user-global ones of the same name
func DefaultSourceRoots(workspaceDir string) ([]SourceRoot, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}
	return []SourceRoot{
		{Path: workspaceDir, Priority: PriorityRepo, Name: "repo"},
		{Path: homeDir, Priority: PriorityGlobal, Name: "global"},
	}, nil
}

// Loader loads skill catalogues through an executor
type Loader struct {
	executor workspace.Executor
	locator  *Locator
}

// Option is a function that configures a Loader
type Option func(*Loader) error

// WithProductDir sets the per-root directory holding skill directories (default ".openhands")
func WithProductDir(dir string) Option {
	return func(l *Loader) error {
		dir = strings.Trim(strings.TrimSpace(dir), "/")
		if dir == "" {
			return errors.New("product directory cannot be empty")
		}
		l.locator.productDir = dir
		return nil
	}
}

// WithSkillDirs sets the skill directories searched below the product directory
func WithSkillDirs(dirs ...string) Option {
	return func(l *Loader) error {
		l.locator.skillDirs = dirs
		return nil
	}
}

// WithContextFiles sets the repository files loaded as always-active context
func WithContextFiles(files ...string) Option {
	return func(l *Loader) error {
		l.locator.contextFiles = files
		return nil
	}
}

// WithConcurrency caps concurrent document reads within one root
func WithConcurrency(n int) Option {
	return func(l *Loader) error {
		if n < 1 {
			return errors.Errorf("concurrency must be at least 1, got %d", n)
		}
		l.locator.concurrency = n
		return nil
	}
}

// WithTimeout sets the timeout applied to every executor call
func WithTimeout(timeout time.Duration) Option {
	return func(l *Loader) error {
		if timeout <= 0 {
			return errors.Errorf("timeout must be positive, got %s", timeout)
		}
		l.locator.timeout = timeout
		return nil
	}
}

// NewLoader creates a loader issuing all workspace access through executor
func NewLoader(executor workspace.Executor, opts ...Option) (*Loader, error) {
	if executor == nil {
		return nil, errors.New("executor is required")
	}

	l := &Loader{
		executor: executor,
		locator:  NewLocator(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// Load builds a fresh catalogue from roots. Roots are visited by ascending
// priority, keeping the caller's order for equal priorities.
//
// The load either returns a complete catalogue, whose Warnings list the
// documents that could not be read, or an error and no catalogue.
func (l *Loader) Load(ctx context.Context, roots []SourceRoot) (*Catalogue, error) {
	loadID := uuid.New().String()
	ctx = logger.WithLogger(ctx, logger.G(ctx).WithField("load_id", loadID))

	var catalogue *Catalogue
	err := telemetry.WithSpan(ctx, "skills.load", func(ctx context.Context) error {
		var err error
		catalogue, err = l.load(ctx, roots)
		return err
	},
		attribute.String("load_id", loadID),
		attribute.Int("roots.count", len(roots)),
	)
	if err != nil {
		return nil, err
	}

	return catalogue, nil
}

func (l *Loader) load(ctx context.Context, roots []SourceRoot) (*Catalogue, error) {
	ordered := append([]SourceRoot(nil), roots...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	perRoot := make([]RootDocuments, 0, len(ordered))
	var warnings []error

	for _, root := range ordered {
		var docs []Document
		err := telemetry.WithSpan(ctx, "skills.locate", func(ctx context.Context) error {
			var (
				rootWarnings []error
				err          error
			)
			docs, rootWarnings, err = l.locator.Locate(ctx, l.executor, root.Path)
			warnings = append(warnings, rootWarnings...)
			telemetry.SetAttributes(ctx, attribute.Int("documents.count", len(docs)))
			return err
		}, attribute.String("root", root.Key()))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load skills from %s", root.Key())
		}

		perRoot = append(perRoot, RootDocuments{Root: root, Documents: docs})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	built := Build(ctx, perRoot)
	catalogue := newCatalogue(built.skills, warnings)

	log := logger.G(ctx).WithField("skills", catalogue.Len())
	if warning := catalogue.Warning(); warning != nil {
		log.WithError(warning).Warn(fmt.Sprintf("loaded skills with %d unreadable document(s)", len(warnings)))
	} else {
		log.Debug("loaded skills")
	}

	return catalogue, nil
}

// LoadSkills builds a catalogue from roots through executor
func LoadSkills(ctx context.Context, executor workspace.Executor, roots []SourceRoot, opts ...Option) (*Catalogue, error) {
	l, err := NewLoader(executor, opts...)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, roots)
}
