package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/rundir"
	"github.com/droverhq/drover/internal/state"
	"github.com/droverhq/drover/internal/workflow"
)

// statusFlags holds the flag values for the status command.
type statusFlags struct {
	Run       string // --run <dir>, empty means the latest run
	JSON      bool   // --json for structured output
	Artifacts bool   // --artifacts lists run artifact paths
}

// statusStoryOutput is the JSON output type for a single story.
type statusStoryOutput struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Status         string   `json:"status"`
	StepsTotal     int      `json:"steps_total"`
	StepsCompleted int      `json:"steps_completed"`
	CurrentStep    string   `json:"current_step,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

// statusOutput is the top-level JSON output type for the status command.
type statusOutput struct {
	RunDir    string              `json:"run_dir"`
	Completed int                 `json:"completed"`
	Failed    int                 `json:"failed"`
	Blocked   int                 `json:"blocked"`
	InFlight  int                 `json:"in_flight"`
	Stories   []statusStoryOutput `json:"stories"`
	Artifacts []string            `json:"artifacts,omitempty"`
}

// newStatusCmd creates the "drover status" command.
func newStatusCmd() *cobra.Command {
	var flags statusFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show story and step progress for a run",
		Long: `Display per-story progress for a run: status, completed step count, and
the step currently executing. Without --run the most recent run directory
is used.

Use --artifacts to list the run's diagnostic artifacts (state document,
scratch files, step logs, diffs). Use --json for structured output
suitable for scripting.`,
		Example: `  # Latest run
  drover status

  # A specific run, with artifact paths
  drover status --run .drover/runs/20260824T153000_ab12cd34 --artifacts

  # Structured JSON output
  drover status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Run, "run", "", "Run directory to inspect (default: latest)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output structured JSON to stdout")
	cmd.Flags().BoolVar(&flags.Artifacts, "artifacts", false, "List run artifact paths")

	return cmd
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func runStatus(cmd *cobra.Command, flags statusFlags) error {
	resolved, err := loadAndResolveConfig(nil)
	if err != nil {
		return err
	}

	var run *rundir.Dir
	if flags.Run != "" {
		run, err = rundir.Open(flags.Run)
	} else {
		run, err = rundir.Latest(resolved.Config.Project.RunsDir)
	}
	if err != nil {
		return err
	}

	st, err := state.NewStore(run.StatePath()).Load()
	if err != nil {
		return err
	}

	out := buildStatusOutput(run.Path(), st)
	if flags.Artifacts {
		artifacts, err := run.CollectArtifacts()
		if err != nil {
			return err
		}
		out.Artifacts = artifacts
	}

	if flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	renderStatus(cmd.OutOrStdout(), out)
	return nil
}

// buildStatusOutput flattens the state document into the report type.
func buildStatusOutput(runPath string, st *workflow.State) *statusOutput {
	out := &statusOutput{RunDir: runPath}

	ids := make([]string, 0, len(st.Stories))
	for id := range st.Stories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		story := st.Stories[id]
		s := statusStoryOutput{
			ID:         story.ID,
			Title:      story.Title,
			Status:     string(story.Status),
			StepsTotal: len(story.Steps),
			DependsOn:  story.DependsOn,
		}
		for _, step := range story.Steps {
			switch step.Status {
			case workflow.StepCompleted, workflow.StepSkipped:
				s.StepsCompleted++
			case workflow.StepInProgress:
				s.CurrentStep = string(step.Kind)
			}
		}
		out.Stories = append(out.Stories, s)

		switch story.Status {
		case workflow.StoryCompleted:
			out.Completed++
		case workflow.StoryFailed:
			out.Failed++
		case workflow.StoryBlocked:
			out.Blocked++
		default:
			out.InFlight++
		}
	}
	return out
}

var statusStyles = map[string]lipgloss.Style{
	string(workflow.StoryCompleted): lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#16A34A", Dark: "#4ADE80"}),
	string(workflow.StoryFailed):    lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#DC2626", Dark: "#F87171"}),
	string(workflow.StoryBlocked):   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}),
}

func renderStatus(w io.Writer, out *statusOutput) {
	bold := lipgloss.NewStyle().Bold(true)

	fmt.Fprintf(w, "%s %s\n\n", bold.Render("Run:"), out.RunDir)
	for _, s := range out.Stories {
		status := s.Status
		if style, ok := statusStyles[s.Status]; ok {
			status = style.Render(s.Status)
		}
		line := fmt.Sprintf("  %-12s %-12s %2d/%-2d", s.ID, status, s.StepsCompleted, s.StepsTotal)
		if s.CurrentStep != "" {
			line += "  " + s.CurrentStep
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%d completed, %d failed, %d blocked, %d in flight\n",
		out.Completed, out.Failed, out.Blocked, out.InFlight)

	if len(out.Artifacts) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold.Render("Artifacts:"))
		for _, a := range out.Artifacts {
			fmt.Fprintln(w, "  "+a)
		}
	}
}
