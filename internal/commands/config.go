package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shuklalaw/sitecms/internal/config"
)

var configShowYAML bool

// configCmd represents the config command and its subcommands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Display and validate configuration settings.`,
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Load and display the current configuration from file and environment variables.
Tokens and passwords are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(GetConfigFile())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out, err := renderConfig(redact(*cfg), configShowYAML)
		if err != nil {
			return fmt.Errorf("failed to format config: %w", err)
		}

		PrintInfo("Configuration loaded successfully")
		fmt.Println()
		fmt.Println(out)
		return nil
	},
}

// configValidateCmd validates the configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Load and validate the configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		PrintSuccess("Configuration is valid")
		PrintInfo(fmt.Sprintf("Data directory: %s", cfg.Content.DataDir))
		if cfg.Git.Enabled() {
			PrintInfo(fmt.Sprintf("Mirror: %s (branch %s)", cfg.Git.Backend, cfg.Git.Branch))
		} else {
			PrintWarning("No remote mirror configured; saves stay local")
		}
		if channels := deployChannels(cfg.Deploy); len(channels) > 0 {
			PrintInfo(fmt.Sprintf("Deploy channels: %v", channels))
		} else {
			PrintInfo("No deploy channels configured")
		}
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowYAML, "yaml", false, "print as YAML instead of JSON")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(configCmd)
}

const redacted = "********"

// redact blanks out secrets for display
func redact(cfg config.Config) config.Config {
	for _, s := range []*string{
		&cfg.Git.Token,
		&cfg.Deploy.RenderWebhookURL,
		&cfg.Deploy.RailwayToken,
		&cfg.Deploy.VercelToken,
		&cfg.Auth.BootstrapPassword,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	return cfg
}

func renderConfig(cfg config.Config, asYAML bool) (string, error) {
	if asYAML {
		data, err := yaml.Marshal(cfg)
		return string(data), err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	return string(data), err
}

// deployChannels names the hosting channels the config enables, in notify order
func deployChannels(d config.DeployConfig) []string {
	var names []string
	if d.RenderWebhookURL != "" {
		names = append(names, "render")
	}
	if d.RailwayToken != "" {
		names = append(names, "railway")
	}
	if d.VercelToken != "" {
		names = append(names, "vercel")
	}
	return names
}
