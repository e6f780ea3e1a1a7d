package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillet/pkg/logger"
	"github.com/jingkaihe/skillet/pkg/presenter"
	"github.com/jingkaihe/skillet/pkg/skills"
)

// WatchConfig holds configuration for the watch command
type WatchConfig struct {
	DebounceTime int
	Verbosity    string
}

// NewWatchConfig creates a new WatchConfig with default values
func NewWatchConfig() *WatchConfig {
	return &WatchConfig{
		DebounceTime: 300,
		Verbosity:    "normal",
	}
}

// Validate validates the WatchConfig and returns an error if invalid
func (c *WatchConfig) Validate() error {
	switch c.Verbosity {
	case "quiet", "normal", "verbose":
	default:
		return errors.Errorf("invalid verbosity level: %s, must be one of: quiet, normal, verbose", c.Verbosity)
	}
	if c.DebounceTime < 0 {
		return errors.Errorf("debounce time cannot be negative: %d", c.DebounceTime)
	}
	return nil
}

// FileEvent represents a file system event with additional metadata
type FileEvent struct {
	Path string
	Op   fsnotify.Op
	Time time.Time
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reload the skill catalogue whenever skill documents change",
	Long: `Watch the skill directories of a local workspace and of the user-level
skills root, reloading the catalogue after every change and reporting which
skills were added, removed or modified. Container workspaces cannot be watched.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		config := getWatchConfigFromFlags(cmd)
		if err := config.Validate(); err != nil {
			presenter.Error(err, "Invalid configuration")
			os.Exit(1)
		}
		presenter.SetQuiet(config.Verbosity == "quiet")

		workspaceConfig := getWorkspaceConfigFromFlags(cmd)
		if workspaceConfig.Container != "" {
			presenter.Error(errors.New("container workspaces cannot be watched"), "Invalid configuration")
			os.Exit(1)
		}

		if err := runWatchMode(ctx, workspaceConfig, config); err != nil {
			presenter.Error(err, "Watch failed")
			os.Exit(1)
		}
	},
}

func init() {
	defaults := NewWatchConfig()
	watchCmd.Flags().IntP("debounce", "d", defaults.DebounceTime, "Debounce time in milliseconds for file change events")
	watchCmd.Flags().StringP("verbosity", "v", defaults.Verbosity, "Verbosity level (quiet, normal, verbose)")
	addWorkspaceFlags(watchCmd)
}

// getWatchConfigFromFlags extracts watch configuration from command flags
func getWatchConfigFromFlags(cmd *cobra.Command) *WatchConfig {
	config := NewWatchConfig()

	if debounceTime, err := cmd.Flags().GetInt("debounce"); err == nil {
		config.DebounceTime = debounceTime
	}
	if verbosity, err := cmd.Flags().GetString("verbosity"); err == nil {
		config.Verbosity = verbosity
	}

	return config
}

// watchTargets knows which paths of the watched roots can hold skills
type watchTargets struct {
	roots        []string
	skillDirs    []string
	contextFiles map[string]struct{}
}

func newWatchTargets(config skills.Config, roots []skills.SourceRoot) *watchTargets {
	t := &watchTargets{contextFiles: make(map[string]struct{})}
	for _, root := range roots {
		t.roots = append(t.roots, root.Path)
		for _, dir := range config.Dirs {
			t.skillDirs = append(t.skillDirs, filepath.Join(root.Path, config.ProductDir, dir))
		}
		for _, file := range config.ContextFiles {
			t.contextFiles[filepath.Join(root.Path, file)] = struct{}{}
		}
	}
	return t
}

// relevant reports whether a change to p can alter the catalogue
func (t *watchTargets) relevant(p string) bool {
	if _, ok := t.contextFiles[p]; ok {
		return true
	}
	for _, dir := range t.skillDirs {
		if p == dir || strings.HasPrefix(p, dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// watchable reports whether a newly created directory at p must be watched
func (t *watchTargets) watchable(p string) bool {
	for _, dir := range t.productDirs() {
		if p == dir {
			return true
		}
	}
	return t.relevant(p)
}

// productDirs returns the directories between each root and its skill directories
func (t *watchTargets) productDirs() []string {
	seen := make(map[string]struct{})
	var dirs []string
	for _, dir := range t.skillDirs {
		parent := filepath.Dir(dir)
		if _, ok := seen[parent]; ok {
			continue
		}
		seen[parent] = struct{}{}
		dirs = append(dirs, parent)
	}
	return dirs
}

// addRecursive watches dir and every directory below it. Missing
// directories are ignored; they are picked up once created.
func addRecursive(ctx context.Context, watcher *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		logger.G(ctx).WithField("directory", path).Debug("Adding directory to watcher")
		return watcher.Add(path)
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func runWatchMode(ctx context.Context, workspaceConfig *WorkspaceConfig, config *WatchConfig) error {
	skillsConfig, err := workspaceConfig.SkillsConfig()
	if err != nil {
		return err
	}
	workspaceDir, err := workspaceConfig.ResolveWorkspace()
	if err != nil {
		return err
	}
	if !skillsConfig.Active() {
		return errors.New("skills are disabled")
	}
	roots, err := skillsConfig.SourceRoots(workspaceDir)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()

	targets := newWatchTargets(skillsConfig, roots)
	// roots and product dirs are watched shallowly to see context files
	// and skill directories appear
	for _, dir := range append(append([]string{}, targets.roots...), targets.productDirs()...) {
		if err := watcher.Add(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "failed to watch %s", dir)
		}
	}
	for _, dir := range targets.skillDirs {
		if err := addRecursive(ctx, watcher, dir); err != nil {
			return errors.Wrapf(err, "failed to watch %s", dir)
		}
	}

	current, err := skillsConfig.Load(ctx, workspaceDir)
	if err != nil {
		return errors.Wrap(err, "failed to load skills")
	}
	presenter.Success(fmt.Sprintf("Loaded %d skills from %s", current.Len(), workspaceDir))
	presenter.Warnings("Some skill documents could not be read", current.Warnings())

	events := make(chan FileEvent)
	batches := make(chan []FileEvent)
	go debounceFileEvents(ctx, events, batches, time.Duration(config.DebounceTime)*time.Millisecond)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create != 0 && targets.watchable(event.Name) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := addRecursive(ctx, watcher, event.Name); err != nil {
							logger.G(ctx).WithError(err).WithField("directory", event.Name).Warn("failed to watch new directory")
						}
					}
				}
				if !targets.relevant(event.Name) || event.Op == fsnotify.Chmod {
					continue
				}
				select {
				case events <- FileEvent{Path: event.Name, Op: event.Op, Time: time.Now()}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.G(ctx).WithError(err).Error("Error watching files")
			case <-ctx.Done():
				return
			}
		}
	}()

	presenter.Info("Watching for skill changes... Press Ctrl+C to stop")

	for {
		select {
		case batch := <-batches:
			if config.Verbosity == "verbose" {
				for _, event := range batch {
					presenter.Info(fmt.Sprintf("Change detected: %s (%s)", event.Path, event.Op))
				}
			}

			next, err := skillsConfig.Load(ctx, workspaceDir)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				presenter.Error(err, "Failed to reload skills")
				continue
			}

			diff := diffCatalogues(current, next)
			current = next
			if diff.empty() {
				logger.G(ctx).Debug("skill documents changed without affecting the catalogue")
				continue
			}
			presenter.Success(fmt.Sprintf("Reloaded %d skills: %s", next.Len(), diff))
			presenter.Warnings("Some skill documents could not be read", next.Warnings())
		case <-ctx.Done():
			presenter.Info("Stopped watching")
			return nil
		}
	}
}

// debounceFileEvents groups events arriving less than delay apart into one
// batch, so that a burst of writes causes a single reload
func debounceFileEvents(ctx context.Context, input <-chan FileEvent, output chan<- []FileEvent, delay time.Duration) {
	var (
		batch []FileEvent
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-input:
			if !ok {
				return
			}
			batch = append(batch, event)
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			select {
			case output <- batch:
			case <-ctx.Done():
				return
			}
			batch = nil
		case <-ctx.Done():
			return
		}
	}
}

// catalogueDiff lists skill names by kind of change between two loads
type catalogueDiff struct {
	Added    []string
	Removed  []string
	Modified []string
}

func (d catalogueDiff) empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

func (d catalogueDiff) String() string {
	var parts []string
	if len(d.Added) > 0 {
		parts = append(parts, "added "+strings.Join(d.Added, ", "))
	}
	if len(d.Removed) > 0 {
		parts = append(parts, "removed "+strings.Join(d.Removed, ", "))
	}
	if len(d.Modified) > 0 {
		parts = append(parts, "modified "+strings.Join(d.Modified, ", "))
	}
	return strings.Join(parts, "; ")
}

func diffCatalogues(prev, next *skills.Catalogue) catalogueDiff {
	var diff catalogueDiff
	for _, s := range next.Skills() {
		old, ok := prev.Get(s.Name)
		switch {
		case !ok:
			diff.Added = append(diff.Added, s.Name)
		case !reflect.DeepEqual(old, s):
			diff.Modified = append(diff.Modified, s.Name)
		}
	}
	for _, s := range prev.Skills() {
		if _, ok := next.Get(s.Name); !ok {
			diff.Removed = append(diff.Removed, s.Name)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	return diff
}
