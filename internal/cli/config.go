package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const sampleConfig = `# threatwatch configuration. Environment variables still apply; values here win.
database:
  driver: sqlite
  path: ./threatwatch.db
server:
  port: 8080
  # api_token: change-me
intel:
  workers: 4
  failure_threshold: 5
  sla_tracker_schedule: "@every 1m"
sinks:
  # redis_url: redis://localhost:6379/0
  # webhook_url: https://chat.example/hooks/soc
log:
  level: info
  format: json

# Sources registered (or updated by name) when serve starts
sources:
  - name: feodo-ips
    provider: blocklist
    endpoint: https://feodotracker.abuse.ch/downloads/ipblocklist.txt
    feed_type: ioc
    poll_interval: 30m
    trust_weight: 1.0
    options:
      indicator_type: ip
      reputation: "-6"
  - name: otx
    provider: otx
    endpoint: https://otx.alienvault.com
    credential_ref: env:OTX_API_KEY
    feed_type: malware
    poll_interval: 15m
    trust_weight: 1.2
`

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "threatwatch.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.APIToken != "" {
				cfg.Server.APIToken = "(set)"
			}
			if cfg.Database.Password != "" {
				cfg.Database.Password = "(set)"
			}
			if cfg.Sinks.RedisURL != "" {
				cfg.Sinks.RedisURL = "(set)"
			}
			if used := viper.ConfigFileUsed(); used != "" {
				fmt.Fprintf(os.Stderr, "config file: %s\n", used)
			}
			return printStructured(cfg)
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a value from the configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			val := viper.Get(args[0])
			if val == nil {
				fmt.Printf("%s: (not set)\n", args[0])
			} else {
				fmt.Printf("%s: %v\n", args[0], val)
			}
			return nil
		},
	}
}
