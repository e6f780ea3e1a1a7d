package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillet/pkg/presenter"
	"github.com/jingkaihe/skillet/pkg/skills"
)

// sandboxWorkspace is where sandbox images conventionally mount the repository
const sandboxWorkspace = "/workspace"

// WorkspaceConfig holds the flags shared by every command that loads skills
type WorkspaceConfig struct {
	Workspace string
	Container string
	GlobalDir string
	Allowed   []string
	Output    string
}

// NewWorkspaceConfig creates a new WorkspaceConfig with default values
func NewWorkspaceConfig() *WorkspaceConfig {
	return &WorkspaceConfig{
		Workspace: ".",
		Output:    "table",
	}
}

// Validate validates the WorkspaceConfig and returns an error if invalid
func (c *WorkspaceConfig) Validate() error {
	switch c.Output {
	case "table", "json", "yaml":
	default:
		return errors.Errorf("invalid output format: %s, must be one of: table, json, yaml", c.Output)
	}
	if c.Workspace == "" {
		return errors.New("workspace cannot be empty")
	}
	return nil
}

// ResolveWorkspace returns the workspace directory as seen by the executor:
// an absolute local path, or a path inside the container
func (c *WorkspaceConfig) ResolveWorkspace() (string, error) {
	if c.Container != "" {
		if c.Workspace == "." {
			return sandboxWorkspace, nil
		}
		if !strings.HasPrefix(c.Workspace, "/") {
			return "", errors.Errorf("workspace %q must be an absolute path inside container %s", c.Workspace, c.Container)
		}
		return c.Workspace, nil
	}

	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve workspace path")
	}
	return abs, nil
}

// SkillsConfig merges the skills section of the configuration with the flags
func (c *WorkspaceConfig) SkillsConfig() (skills.Config, error) {
	config, err := skills.GetConfigFromViper()
	if err != nil {
		return config, err
	}
	if c.Container != "" {
		config.Container = c.Container
	}
	if c.GlobalDir != "" {
		config.GlobalDir = c.GlobalDir
	}
	if len(c.Allowed) > 0 {
		config.Allowed = c.Allowed
	}
	return config, nil
}

func addWorkspaceFlags(cmd *cobra.Command) {
	defaults := NewWorkspaceConfig()
	cmd.Flags().StringP("workspace", "w", defaults.Workspace, "Workspace directory to load skills from")
	cmd.Flags().StringP("container", "c", defaults.Container, "Load skills from inside this running docker container")
	cmd.Flags().String("global-dir", defaults.GlobalDir, "User-level skills root (defaults to $HOME for local workspaces)")
	cmd.Flags().StringSlice("allow", defaults.Allowed, "Only keep skills whose name matches one of these glob patterns")
	cmd.Flags().StringP("output", "o", defaults.Output, "Output format (table, json, yaml)")
}

// getWorkspaceConfigFromFlags extracts workspace configuration from command flags
func getWorkspaceConfigFromFlags(cmd *cobra.Command) *WorkspaceConfig {
	config := NewWorkspaceConfig()

	if workspace, err := cmd.Flags().GetString("workspace"); err == nil {
		config.Workspace = workspace
	}
	if container, err := cmd.Flags().GetString("container"); err == nil {
		config.Container = container
	}
	if globalDir, err := cmd.Flags().GetString("global-dir"); err == nil {
		config.GlobalDir = globalDir
	}
	if allowed, err := cmd.Flags().GetStringSlice("allow"); err == nil {
		config.Allowed = allowed
	}
	if output, err := cmd.Flags().GetString("output"); err == nil {
		config.Output = output
	}

	return config
}

// loadCatalogue loads the catalogue described by the flags, reporting any
// unreadable documents on stderr
func loadCatalogue(ctx context.Context, config *WorkspaceConfig) (*skills.Catalogue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	skillsConfig, err := config.SkillsConfig()
	if err != nil {
		return nil, err
	}
	if !skillsConfig.Active() {
		return nil, nil
	}

	workspaceDir, err := config.ResolveWorkspace()
	if err != nil {
		return nil, err
	}

	catalogue, err := skillsConfig.Load(ctx, workspaceDir)
	if err != nil {
		return nil, err
	}

	presenter.Warnings("Some skill documents could not be read", catalogue.Warnings())
	return catalogue, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the skills found in the workspace",
	Long: `List every skill found in the workspace and the user-level skills root.

Always-active skills are shown with type "repo", triggered skills with type
"knowledge" and their trigger keywords.

Examples:
  skillet list
  skillet list -w ~/src/project -o json
  skillet list --container sandbox-1234`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		config := getWorkspaceConfigFromFlags(cmd)

		catalogue, err := loadCatalogue(cmd.Context(), config)
		if err != nil {
			presenter.Error(err, "Failed to load skills")
			os.Exit(1)
		}
		if catalogue == nil {
			presenter.Info("Skills are disabled")
			return
		}

		if config.Output == "table" && catalogue.Len() == 0 {
			presenter.Info("No skills found")
			return
		}
		if err := renderSkills(os.Stdout, config.Output, catalogue.Skills(), false); err != nil {
			presenter.Error(err, "Failed to render skills")
			os.Exit(1)
		}
	},
}

var showCmd = &cobra.Command{
	Use:   "show <skill-name>",
	Short: "Show a skill and its content",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getWorkspaceConfigFromFlags(cmd)

		catalogue, err := loadCatalogue(cmd.Context(), config)
		if err != nil {
			presenter.Error(err, "Failed to load skills")
			os.Exit(1)
		}

		skill, ok := catalogue.Get(args[0])
		if !ok {
			presenter.Error(errors.Errorf("skill '%s' not found", args[0]), "Skill not found")
			os.Exit(1)
		}

		if err := renderSkills(os.Stdout, config.Output, []*skills.Skill{skill}, true); err != nil {
			presenter.Error(err, "Failed to render skill")
			os.Exit(1)
		}
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate [task description]",
	Short: "Print the skills a task activates",
	Long: `Print the skills an agent should load for a task: every always-active skill
plus each triggered skill with a keyword mentioned in the task description.
The description is read from the arguments, or from stdin when none are given.

Examples:
  skillet activate "open a GitHub pull request for the fix"
  echo "deploy to kubernetes" | skillet activate -o json`,
	Run: func(cmd *cobra.Command, args []string) {
		config := getWorkspaceConfigFromFlags(cmd)

		contextText := strings.Join(args, " ")
		if len(args) == 0 {
			input, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				presenter.Error(err, "Failed to read task description")
				os.Exit(1)
			}
			contextText = string(input)
		}

		catalogue, err := loadCatalogue(cmd.Context(), config)
		if err != nil {
			presenter.Error(err, "Failed to load skills")
			os.Exit(1)
		}

		if err := renderSkills(os.Stdout, config.Output, catalogue.Activate(contextText), true); err != nil {
			presenter.Error(err, "Failed to render skills")
			os.Exit(1)
		}
	},
}

func init() {
	addWorkspaceFlags(listCmd)
	addWorkspaceFlags(showCmd)
	addWorkspaceFlags(activateCmd)
}

// renderSkills writes skills in the requested format. Content is included
// in structured output only when withContent is set; the table format then
// prints each skill's content below a header instead of a table.
func renderSkills(w io.Writer, format string, list []*skills.Skill, withContent bool) error {
	if list == nil {
		list = []*skills.Skill{}
	}

	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(skillViews(list, withContent))
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(skillViews(list, withContent))
	case "table":
		if withContent {
			return renderContent(w, list)
		}
		return renderTable(w, list)
	default:
		return errors.Errorf("unknown output format: %s", format)
	}
}

type skillView struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Triggers    []string `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Path        string   `json:"path" yaml:"path"`
	Content     string   `json:"content,omitempty" yaml:"content,omitempty"`
}

func skillViews(list []*skills.Skill, withContent bool) []skillView {
	views := make([]skillView, 0, len(list))
	for _, s := range list {
		view := skillView{
			Name:        s.Name,
			Type:        s.Type(),
			Description: s.Description,
			Triggers:    s.Triggers,
			Path:        s.Path,
		}
		if withContent {
			view.Content = s.Content
		}
		views = append(views, view)
	}
	return views
}

func renderTable(w io.Writer, list []*skills.Skill) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tTRIGGERS\tPATH")
	fmt.Fprintln(tw, "----\t----\t--------\t----")

	for _, s := range list {
		triggers := strings.Join(s.Triggers, ", ")
		if triggers == "" {
			triggers = "-"
		}
		if len(triggers) > 40 {
			triggers = triggers[:37] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Type(), triggers, s.Path)
	}
	return tw.Flush()
}

func renderContent(w io.Writer, list []*skills.Skill) error {
	for i, s := range list {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		header := fmt.Sprintf("<skill name=%q type=%q>", s.Name, s.Type())
		if _, err := fmt.Fprintf(w, "%s\n%s\n</skill>\n", header, strings.TrimRight(s.Content, "\n")); err != nil {
			return err
		}
	}
	return nil
}
