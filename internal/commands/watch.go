package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuklalaw/sitecms/internal/broadcast"
)

var watchSection string

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow content updates live",
	Long: `Subscribe to a running server and print every section update as it is
saved, the same stream open admin tabs receive. Stop with Ctrl-C.

Examples:
  # Follow every section
  sitecms watch

  # Follow only the blog, printing full documents
  sitecms watch --section blog -v`,
	RunE: watchRun,
}

func init() {
	watchCmd.Flags().StringVar(&watchSection, "section", "", "only show updates for this section")

	rootCmd.AddCommand(watchCmd)
}

func watchRun(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	PrintInfo("Waiting for updates...")
	return c.Subscribe(ctx, func(ev broadcast.Event) {
		if watchSection != "" && ev.Section != watchSection {
			return
		}
		fmt.Printf("%s  %s  %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Type, ev.Section)
		if IsVerbose() {
			out, err := json.MarshalIndent(ev.Data, "  ", "  ")
			if err != nil {
				PrintWarning(err.Error())
				return
			}
			fmt.Printf("  %s\n", out)
		}
	})
}
