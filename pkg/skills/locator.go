package skills

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jingkaihe/skillet/pkg/logger"
	"github.com/jingkaihe/skillet/pkg/telemetry"
	"github.com/jingkaihe/skillet/pkg/workspace"
)

const (
	// DefaultProductDir is the per-repository configuration directory holding skills
	DefaultProductDir = ".openhands"
	// DefaultConcurrency caps concurrent document reads within one root
	DefaultConcurrency = 4

	skillFileName   = "SKILL.md"
	markdownPattern = "**/*.{md,markdown}"
)

var (
	// DefaultSkillDirs are searched below the product directory, in order
	DefaultSkillDirs = []string{"skills", "microagents"}
	// DefaultContextFiles are repository files always loaded as context when present
	DefaultContextFiles = []string{"AGENTS.md", ".cursorrules"}
)

// Document is a raw skill document read from the workspace
type Document struct {
	Path        string
	DefaultName string
	Raw         string
}

// Locator finds skill documents below a root through a workspace.Executor
type Locator struct {
	productDir   string
	skillDirs    []string
	contextFiles []string
	concurrency  int
	timeout      time.Duration
}

// NewLocator creates a Locator with the default layout
func NewLocator() *Locator {
	return &Locator{
		productDir:   DefaultProductDir,
		skillDirs:    append([]string(nil), DefaultSkillDirs...),
		contextFiles: append([]string(nil), DefaultContextFiles...),
		concurrency:  DefaultConcurrency,
		timeout:      workspace.DefaultTimeout,
	}
}

// Locate lists and reads the skill documents below root, sorted by path.
//
// A missing skills directory yields no documents. A listing that fails or
// documents that cannot be read are skipped and reported as warnings. The returned
// error is only set when the executor itself failed or ctx was cancelled, in
// which case no documents are returned.
func (l *Locator) Locate(ctx context.Context, executor workspace.Executor, root string) ([]Document, []error, error) {
	log := logger.G(ctx).WithField("root", root)

	dirs, contextFiles := l.targets(root)
	listing, err := executor.Execute(ctx, workspace.ListFilesCommand(append(dirs, contextFiles...)...), "", l.timeout)
	if err != nil {
		if workspace.IsTimeout(err) && ctx.Err() == nil {
			log.WithError(err).Warn("timed out listing skill documents")
			return nil, []error{&ReadError{Path: root, Err: err}}, nil
		}
		return nil, nil, errors.Wrapf(err, "failed to list skill documents in %s", root)
	}
	if !listing.Success() {
		log.WithField("exit_code", listing.ExitCode).Warn("failed to list skill documents, skipping root")
		return nil, []error{&ReadError{Path: root, ExitCode: listing.ExitCode}}, nil
	}

	candidates := l.candidates(workspace.ParseLines(listing.Stdout), dirs, contextFiles)
	if len(candidates) == 0 {
		return nil, nil, nil
	}

	var (
		mu       sync.Mutex
		docs     []Document
		warnings []error
	)

	skip := func(ctx context.Context, readErr *ReadError) {
		log.WithField("path", readErr.Path).WithError(readErr).Warn("skipping unreadable skill document")
		telemetry.AddEvent(ctx, "skills.read_skipped", attribute.String("path", readErr.Path))
		mu.Lock()
		warnings = append(warnings, readErr)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() error {
			result, err := executor.Execute(gctx, workspace.ReadFileCommand(candidate.Path), "", l.timeout)
			switch {
			case err != nil && workspace.IsTimeout(err) && gctx.Err() == nil:
				skip(gctx, &ReadError{Path: candidate.Path, Err: err})
				return nil
			case err != nil:
				return errors.Wrapf(err, "failed to read %s", candidate.Path)
			case !result.Success():
				skip(gctx, &ReadError{Path: candidate.Path, ExitCode: result.ExitCode})
				return nil
			}

			candidate.Raw = result.Stdout
			mu.Lock()
			docs = append(docs, candidate)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	sort.Slice(warnings, func(i, j int) bool { return warnings[i].Error() < warnings[j].Error() })

	return docs, warnings, nil
}

// targets returns the absolute skill directories and context files for root
func (l *Locator) targets(root string) ([]string, []string) {
	base := path.Clean(root)
	dirs := make([]string, 0, len(l.skillDirs))
	for _, dir := range l.skillDirs {
		dirs = append(dirs, path.Join(base, l.productDir, dir))
	}
	files := make([]string, 0, len(l.contextFiles))
	for _, file := range l.contextFiles {
		files = append(files, path.Join(base, file))
	}
	return dirs, files
}

// candidates keeps the markdown files of the skill directories and the
// context files, one entry per path, sorted by path
func (l *Locator) candidates(listed []string, dirs []string, contextFiles []string) []Document {
	seen := make(map[string]struct{}, len(listed))
	var out []Document

	for _, p := range listed {
		p = path.Clean(strings.TrimSpace(p))
		if _, dup := seen[p]; dup {
			continue
		}

		if name, ok := contextFileName(p, contextFiles); ok {
			seen[p] = struct{}{}
			out = append(out, Document{Path: p, DefaultName: name})
			continue
		}

		for _, dir := range dirs {
			rel, ok := relativeTo(dir, p)
			if !ok {
				continue
			}
			if matched, _ := doublestar.Match(markdownPattern, strings.ToLower(rel)); !matched {
				break
			}
			seen[p] = struct{}{}
			out = append(out, Document{Path: p, DefaultName: documentName(p)})
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func relativeTo(dir, p string) (string, bool) {
	prefix := dir + "/"
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	return strings.TrimPrefix(p, prefix), true
}

func contextFileName(p string, contextFiles []string) (string, bool) {
	for _, file := range contextFiles {
		if p == file {
			base := strings.TrimPrefix(path.Base(p), ".")
			return strings.ToLower(strings.TrimSuffix(base, path.Ext(base))), true
		}
	}
	return "", false
}

// documentName derives a skill name from a document path: the filename stem,
// or the enclosing directory for SKILL.md packages
func documentName(p string) string {
	base := path.Base(p)
	if strings.EqualFold(base, skillFileName) {
		return path.Base(path.Dir(p))
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
