package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuklalaw/sitecms/internal/client"
)

var (
	deployMessage string
	deployTimeout time.Duration
)

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Publish all sections in one commit",
	Long: `Ask a running server to commit every stored section to the mirror in a
single commit and notify the hosting platforms.

Unlike a regular save, this waits for the commit and reports its SHA.

Examples:
  # Deploy with the default message
  sitecms deploy

  # Deploy to a specific server with a custom message
  sitecms deploy --server https://shuklalaw.example -m "New practice areas"`,
	RunE: deployRun,
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show deployment status",
	Long: `Show the latest deployment reported by the repository host and the
server's most recent mirror attempt.`,
	RunE: statusRun,
}

func init() {
	deployCmd.Flags().StringVarP(&deployMessage, "message", "m", "", "commit message (default: git.commit_message)")
	deployCmd.Flags().DurationVar(&deployTimeout, "timeout", 2*time.Minute, "how long to wait for the commit")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
}

func newClient() (*client.Client, error) {
	base, err := resolveServerURL()
	if err != nil {
		return nil, err
	}
	return client.New(base)
}

func deployRun(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), deployTimeout)
	defer cancel()

	PrintInfo("Deploying all sections...")
	commit, err := c.Deploy(ctx, deployMessage)
	if err != nil {
		return fmt.Errorf("deploy failed: %w", err)
	}
	if commit == nil {
		PrintWarning("Nothing to deploy")
		return nil
	}

	PrintSuccess(fmt.Sprintf("Committed %s (%d files)", shortSHA(commit.SHA), len(commit.Files)))
	if commit.URL != "" {
		PrintInfo(commit.URL)
	}
	if IsVerbose() {
		for _, f := range commit.Files {
			fmt.Printf("  %s\n", f)
		}
	}
	return nil
}

func statusRun(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	st, err := c.DeploymentStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	PrintInfo(fmt.Sprintf("Mirror: %s", st.Mirror))
	if st.Remote != nil {
		fmt.Printf("  Latest deployment: %s on %s (%s)\n", shortSHA(st.Remote.SHA), st.Remote.Environment, st.Remote.State)
		fmt.Printf("  Created:           %s\n", st.Remote.CreatedAt.Local().Format(time.DateTime))
	}
	if st.RemoteError != "" {
		PrintWarning(fmt.Sprintf("Could not query the repository host: %s", st.RemoteError))
	}
	if a := st.LastAttempt; a != nil {
		fmt.Printf("  Last attempt:      %s %s, mirror %s", a.Kind, a.StartedAt.Local().Format(time.DateTime), a.MirrorStatus)
		if a.CommitSHA != "" {
			fmt.Printf(" (%s)", shortSHA(a.CommitSHA))
		}
		fmt.Println()
		if a.MirrorError != "" {
			fmt.Printf("  Error:             %s\n", a.MirrorError)
		}
		fmt.Printf("  Hosting notified:  %t\n", a.Triggered)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
