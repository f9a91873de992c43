package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pratik-mahalle/threatwatch/internal/config"
	"github.com/pratik-mahalle/threatwatch/internal/pkg/logger"
)

var (
	cfgFile      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "threatwatch",
	Short: "threatwatch - threat-intelligence ingestion and triage",
	Long: `threatwatch polls external threat-intelligence feeds, correlates what they
report into one record per indicator, scores each indicator, notifies analysts
when a threat crosses the action threshold and escalates tickets that miss
their SLA.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./threatwatch.yaml or $HOME/.threatwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSourcesCmd())
	rootCmd.AddCommand(newPollCmd())
	rootCmd.AddCommand(newEscalateCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".threatwatch"))
		}
		viper.SetConfigName("threatwatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("THREATWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("output", "table")

	if err := viper.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing || cfgFile != "" {
			fmt.Fprintln(os.Stderr, "Warning: failed to read config file:", err)
		}
	}
}

// loadConfig reads the environment configuration and applies any overrides
// from the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	overrideString("server.host", &cfg.Server.Host)
	overrideInt("server.port", &cfg.Server.Port)
	overrideString("server.allowed_origin", &cfg.Server.AllowedOrigin)
	overrideString("server.api_token", &cfg.Server.APIToken)

	overrideString("database.driver", &cfg.Database.Driver)
	overrideString("database.path", &cfg.Database.Path)
	overrideString("database.host", &cfg.Database.Host)
	overrideInt("database.port", &cfg.Database.Port)
	overrideString("database.name", &cfg.Database.Name)
	overrideString("database.user", &cfg.Database.User)
	overrideString("database.password", &cfg.Database.Password)
	overrideString("database.sslmode", &cfg.Database.SSLMode)

	overrideString("log.level", &cfg.Logging.Level)
	overrideString("log.format", &cfg.Logging.Format)

	overrideInt("intel.workers", &cfg.Intel.WorkerPoolSize)
	overrideDuration("intel.poll_timeout", &cfg.Intel.PollTimeout)
	overrideInt("intel.failure_threshold", &cfg.Intel.FailureThreshold)
	overrideInt("intel.fetch_limit", &cfg.Intel.FetchLimit)
	overrideInt("intel.action_priority", &cfg.Intel.ActionPriority)
	overrideString("intel.sla_tracker_schedule", &cfg.Intel.SLATrackerSpec)
	overrideDuration("intel.sla.critical", &cfg.Intel.SLA.Critical)
	overrideDuration("intel.sla.high", &cfg.Intel.SLA.High)
	overrideDuration("intel.sla.medium", &cfg.Intel.SLA.Medium)
	overrideDuration("intel.sla.low", &cfg.Intel.SLA.Low)

	overrideString("sinks.redis_url", &cfg.Sinks.RedisURL)
	overrideString("sinks.webhook_url", &cfg.Sinks.WebhookURL)
	overrideString("sinks.supervisor_webhook_url", &cfg.Sinks.SupervisorWebhook)

	overrideString("feeds.otx_base_url", &cfg.Feeds.OTXBaseURL)
	if viper.IsSet("feeds.requests_per_second") {
		cfg.Feeds.RequestsPerSecond = viper.GetFloat64("feeds.requests_per_second")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrideString(key string, dst *string) {
	if v := viper.GetString(key); viper.IsSet(key) && v != "" {
		*dst = v
	}
}

func overrideInt(key string, dst *int) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overrideDuration(key string, dst *time.Duration) {
	if viper.IsSet(key) {
		*dst = viper.GetDuration(key)
	}
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

func getOutputFormat() string {
	if outputFormat != "" && outputFormat != "table" {
		return outputFormat
	}
	return viper.GetString("output")
}
