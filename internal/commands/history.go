package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/shuklalaw/sitecms/internal/backend"
	"github.com/shuklalaw/sitecms/internal/content"
	"github.com/shuklalaw/sitecms/internal/service"
	"github.com/shuklalaw/sitecms/internal/state"
)

var (
	historyLimit    int
	historyAttempts bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show content commit history",
	Long: `Display the recent commits on the mirror branch, or with --attempts the
local journal of mirror and deploy attempts kept in the state database.

This reads the configured mirror and data directory directly and does not
need a running server.

Examples:
  # Show the last 20 mirror commits
  sitecms history

  # Show the last 5 local attempts, including failed ones
  sitecms history --attempts --limit 5`,
	RunE: historyRun,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries to show")
	historyCmd.Flags().BoolVar(&historyAttempts, "attempts", false, "Show the local attempt journal instead of mirror commits")

	rootCmd.AddCommand(historyCmd)
}

func historyRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if historyAttempts {
		db, err := state.Open(cfg.Content.StatePath())
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.ListDeployments(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}
		printAttempts(records)
		return nil
	}

	if !cfg.Git.Enabled() {
		return fmt.Errorf("no mirror configured (git.backend is %q)", cfg.Git.Backend)
	}
	mirror, err := backend.NewMirror(&cfg.Git)
	if err != nil {
		return fmt.Errorf("failed to create mirror: %w", err)
	}

	svc := service.New(service.Deps{
		Store:  content.NewStore(afero.NewOsFs(), cfg.Content.ContentDir()),
		Mirror: mirror,
	})
	defer svc.Close()

	PrintInfo(fmt.Sprintf("Loading history from %s...", mirror.Name()))
	commits, err := svc.History(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	printCommits(commits)
	return nil
}

func printCommits(commits []backend.CommitSummary) {
	if len(commits) == 0 {
		PrintInfo("No commits found")
		return
	}

	PrintSuccess(fmt.Sprintf("Found %d commit(s)", len(commits)))
	fmt.Println()
	for _, c := range commits {
		subject, _, _ := strings.Cut(c.Message, "\n")
		fmt.Printf("  %s  %s  %-20s %s\n",
			shortSHA(c.SHA), c.When.Local().Format(time.DateTime), truncate(c.Author, 20), subject)
	}
}

func printAttempts(records []state.DeploymentRecord) {
	if len(records) == 0 {
		PrintInfo("No attempts recorded")
		return
	}

	PrintSuccess(fmt.Sprintf("Found %d attempt(s)", len(records)))
	fmt.Println()
	for _, r := range records {
		notified := "-"
		if r.Triggered {
			notified = "notified"
		}
		fmt.Printf("  %s  %-8s %-12s %-8s %-8s %s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Kind, r.MirrorStatus,
			shortSHA(r.CommitSHA), notified, strings.Join(r.Files, ", "))
		if r.MirrorError != "" && IsVerbose() {
			fmt.Printf("      error: %s\n", r.MirrorError)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
