// Package commands implements all CLI commands for sitecms.
// It uses the Cobra library which is the standard for CLI applications in Go.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shuklalaw/sitecms/internal/config"
	"github.com/shuklalaw/sitecms/pkg/version"
)

var (
	// cfgFile holds the path to the configuration file
	// This is set by the --config flag
	cfgFile string

	// verbose enables verbose output
	// This is set by the --verbose flag
	verbose bool

	// serverURL is the running server the client commands talk to
	// Empty means the site_url from the configuration
	serverURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sitecms",
	Short: "Content service for the Shukla & Shukla Associates website",

	Long: `sitecms stores the law firm website's content sections, serves them
to the public site and the admin panel, and mirrors every save to a Git
repository so the hosting platform can redeploy.

Key features:
  - Local-first saves: the admin never waits for GitHub or the host
  - One commit per save, batched for "save all" and explicit deploys
  - Deploy notifications for Render, Railway and Vercel
  - Live updates to every open admin tab over a websocket
  - Admin login with bcrypt credentials and one-time reset tokens

Example usage:
  # Run the server
  sitecms serve

  # Change one field of a section on a running server
  sitecms edit hero title="Trusted Legal Counsel"

  # Publish everything in one commit
  sitecms deploy -m "Quarterly update"`,

	// We don't want to show the full usage every time there's an error
	SilenceUsage: true,

	// main prints errors through PrintError
	SilenceErrors: true,
}

// Execute is the main entry point for the CLI
// It's called from main.go and executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./sitecms.toml)")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output")

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "",
		"server URL for client commands (default: site_url from config)")

	rootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version, commit hash, and build time of sitecms.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())

		if verbose {
			fmt.Println()
			info := version.Get()
			fmt.Printf("Version:    %s\n", info.Version)
			fmt.Printf("Commit:     %s\n", info.Commit)
			fmt.Printf("Build Time: %s\n", info.BuildTime)
			fmt.Printf("Go:         %s\n", info.GoVersion)
		}
	},
}

// GetConfigFile returns the path to the configuration file
func GetConfigFile() string {
	return cfgFile
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	return verbose
}

// loadConfig loads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration is invalid: %w", err)
	}
	return cfg, nil
}

// resolveServerURL picks the --server flag, falling back to the configured site URL
func resolveServerURL() (string, error) {
	if serverURL != "" {
		return serverURL, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Server.SiteURL, nil
}

// PrintError prints an error message to stderr
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "[ERROR] %v\n", err)
}

// PrintWarning prints a warning message to stderr
func PrintWarning(msg string) {
	fmt.Fprintf(os.Stderr, "[WARN] %s\n", msg)
}

// PrintInfo prints an info message to stdout
func PrintInfo(msg string) {
	fmt.Printf("[INFO] %s\n", msg)
}

// PrintSuccess prints a success message to stdout
func PrintSuccess(msg string) {
	fmt.Printf("[SUCCESS] %s\n", msg)
}
