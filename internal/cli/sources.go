package cli

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pratik-mahalle/threatwatch/internal/api/dto"
	"github.com/pratik-mahalle/threatwatch/internal/domain/source"
	apperrors "github.com/pratik-mahalle/threatwatch/internal/pkg/errors"
)

// sourceSpec is the file form of a source, shared by the config file's
// sources list and "sources import"
type sourceSpec struct {
	Name          string            `yaml:"name" mapstructure:"name"`
	Provider      string            `yaml:"provider" mapstructure:"provider"`
	Endpoint      string            `yaml:"endpoint" mapstructure:"endpoint"`
	CredentialRef string            `yaml:"credential_ref" mapstructure:"credential_ref"`
	FeedType      string            `yaml:"feed_type" mapstructure:"feed_type"`
	PollInterval  string            `yaml:"poll_interval" mapstructure:"poll_interval"`
	TrustWeight   float64           `yaml:"trust_weight" mapstructure:"trust_weight"`
	Enabled       *bool             `yaml:"enabled" mapstructure:"enabled"`
	Options       map[string]string `yaml:"options" mapstructure:"options"`
}

func (s sourceSpec) toSource() (*source.Source, error) {
	interval, err := time.ParseDuration(s.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("source %q: invalid poll_interval %q", s.Name, s.PollInterval)
	}
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return &source.Source{
		Name:          s.Name,
		Provider:      s.Provider,
		Endpoint:      s.Endpoint,
		CredentialRef: s.CredentialRef,
		FeedType:      source.FeedType(s.FeedType),
		PollInterval:  interval,
		TrustWeight:   s.TrustWeight,
		Enabled:       enabled,
		Options:       s.Options,
	}, nil
}

// parseSourceFile reads a YAML document holding either a bare list of sources
// or a "sources:" key
func parseSourceFile(data []byte) ([]sourceSpec, error) {
	var wrapped struct {
		Sources []sourceSpec `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Sources) > 0 {
		return wrapped.Sources, nil
	}
	var list []sourceSpec
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse sources: %w", err)
	}
	return list, nil
}

type applyResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// applySources upserts each spec by name. For an existing source the file's
// schedule, weight, endpoint, credential and options win; enabled is applied
// only when the file sets it, so an operator's disable survives a reload.
func applySources(ctx context.Context, a *app, specs []sourceSpec) (applyResult, error) {
	var res applyResult
	for _, spec := range specs {
		src, err := spec.toSource()
		if err != nil {
			return res, err
		}
		if !a.feeds.Supports(src.Provider) {
			return res, fmt.Errorf("source %q: unknown provider %q", src.Name, src.Provider)
		}

		existing, err := a.sources.GetByName(ctx, src.Name)
		switch {
		case err == nil:
			changed, err := reconcileSource(ctx, a, existing, src, spec.Enabled)
			if err != nil {
				return res, fmt.Errorf("source %q: %w", src.Name, err)
			}
			if changed {
				res.Updated++
			} else {
				res.Unchanged++
			}
		case apperrors.HasCode(err, apperrors.ErrCodeNotFound):
			if _, err := a.registry.Register(ctx, src); err != nil {
				return res, fmt.Errorf("source %q: %w", src.Name, err)
			}
			res.Created++
		default:
			return res, err
		}
	}
	return res, nil
}

// reconcileSource brings a stored source in line with its file form
func reconcileSource(ctx context.Context, a *app, existing, want *source.Source, enabled *bool) (bool, error) {
	if existing.Provider != want.Provider {
		return false, fmt.Errorf("provider cannot change from %q to %q; register it under a new name", existing.Provider, want.Provider)
	}
	if existing.FeedType != want.FeedType {
		return false, fmt.Errorf("feed_type cannot change from %q to %q; register it under a new name", existing.FeedType, want.FeedType)
	}

	var settings source.Settings
	if existing.PollInterval != want.PollInterval {
		settings.PollInterval = &want.PollInterval
	}
	if want.TrustWeight > 0 && existing.TrustWeight != want.TrustWeight {
		settings.TrustWeight = &want.TrustWeight
	}
	if existing.Endpoint != want.Endpoint {
		settings.Endpoint = &want.Endpoint
	}
	if existing.CredentialRef != want.CredentialRef {
		settings.CredentialRef = &want.CredentialRef
	}
	if !maps.Equal(existing.Options, want.Options) {
		settings.Options = want.Options
		if settings.Options == nil {
			settings.Options = map[string]string{}
		}
	}

	changed := false
	if !settings.Empty() {
		if _, err := a.registry.UpdateSettings(ctx, existing.ID, settings); err != nil {
			return false, err
		}
		changed = true
	}

	if enabled != nil && *enabled != existing.Enabled {
		var err error
		if *enabled {
			err = a.registry.Enable(ctx, existing.ID)
		} else {
			err = a.registry.Disable(ctx, existing.ID, "disabled in config file")
		}
		if err != nil {
			return false, err
		}
		changed = true
	}

	if changed {
		a.log.WithFields(map[string]interface{}{
			"source_id": existing.ID,
			"name":      existing.Name,
		}).Info("Source reconciled with config file")
	}
	return changed, nil
}

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sources",
		Aliases: []string{"source", "src"},
		Short:   "Manage threat-intelligence sources",
	}

	cmd.AddCommand(newSourcesListCmd())
	cmd.AddCommand(newSourcesShowCmd())
	cmd.AddCommand(newSourcesAddCmd())
	cmd.AddCommand(newSourcesImportCmd())
	cmd.AddCommand(newSourcesDisableCmd())
	cmd.AddCommand(newSourcesEnableCmd())

	return cmd
}

// withApp loads configuration, opens the pipeline and runs fn against it
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newSourcesListCmd() *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sources, err := a.registry.List(ctx, enabledOnly)
				if err != nil {
					return err
				}

				views := make([]dto.SourceDTO, 0, len(sources))
				for _, s := range sources {
					views = append(views, dto.FromSource(s))
				}
				if !wantsTable() {
					return printStructured(views)
				}
				if len(views) == 0 {
					fmt.Println("No sources registered.")
					return nil
				}

				table := NewTable("ID", "NAME", "PROVIDER", "TYPE", "INTERVAL", "WEIGHT", "ENABLED", "HEALTH", "LAST SUCCESS")
				for _, s := range sources {
					table.AddRow(
						truncate(s.ID, 12),
						truncate(s.Name, 24),
						s.Provider,
						string(s.FeedType),
						s.PollInterval.String(),
						strconv.FormatFloat(s.Weight(), 'f', 2, 64),
						strconv.FormatBool(s.Enabled),
						formatHealth(string(s.Health)),
						formatTime(s.LastSuccessAt),
					)
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled sources")
	return cmd
}

func newSourcesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <source-id>",
		Short: "Show one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := a.registry.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printStructured(dto.FromSource(src))
			})
		},
	}
}

func newSourcesAddCmd() *cobra.Command {
	var spec sourceSpec
	var options map[string]string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			spec.Options = options
			return withApp(cmd, func(ctx context.Context, a *app) error {
				src, err := spec.toSource()
				if err != nil {
					return err
				}
				if !a.feeds.Supports(src.Provider) {
					return fmt.Errorf("unknown provider %q", src.Provider)
				}
				id, err := a.registry.Register(ctx, src)
				if err != nil {
					return err
				}
				fmt.Printf("Source %s registered (id %s)\n", src.Name, id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&spec.Provider, "provider", "", "adapter: otx, blocklist")
	cmd.Flags().StringVar(&spec.Endpoint, "endpoint", "", "feed base URL")
	cmd.Flags().StringVar(&spec.CredentialRef, "credential-ref", "", "credential reference, e.g. env:OTX_API_KEY")
	cmd.Flags().StringVar(&spec.FeedType, "feed-type", string(source.FeedTypeIOC), "ioc, malware, vulnerability or reputation")
	cmd.Flags().StringVar(&spec.PollInterval, "interval", "1h", "poll interval")
	cmd.Flags().Float64Var(&spec.TrustWeight, "trust-weight", source.DefaultTrustWeight, "trust weight")
	cmd.Flags().StringToStringVar(&options, "option", nil, "adapter option key=value (repeatable)")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func newSourcesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Register or update sources from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			specs, err := parseSourceFile(data)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := applySources(ctx, a, specs)
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d sources (%d created, %d updated, %d unchanged)\n", res.Created+res.Updated+res.Unchanged, res.Created, res.Updated, res.Unchanged)
				return nil
			})
		},
	}
}

func newSourcesDisableCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "disable <source-id>",
		Short: "Stop polling a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.registry.Disable(ctx, args[0], reason); err != nil {
					return err
				}
				fmt.Printf("Source %s disabled\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the source is disabled")
	return cmd
}

func newSourcesEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <source-id>",
		Short: "Re-enable a source and reset its health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.registry.Enable(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Source %s enabled\n", args[0])
				return nil
			})
		},
	}
}
