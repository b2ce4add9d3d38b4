package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/config"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/events"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/logging"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/provider"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/runner"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/taskdoc"
	"github.com/RyosukeMondo/spec-workflow-runner-sub001/internal/tui"
)

// Version is set at build time.
var Version = "dev"

// exitCodeError carries a process exit status through cobra's error path.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		var exitErr exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(ctx)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	cmd := newRootCommand(cfg, logger.Logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "swrun",
		Short:         "Supervise spec-workflow coding agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newTUICommand(cfg, logger),
		newStatusCommand(logger),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

func newTUICommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	var projectPath string
	var providerName string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the session dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if projectPath == "" {
				workingDir, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				projectPath = workingDir
			}
			if providerName == "" {
				providerName = cfg.DefaultProvider
			}

			specs, err := runner.ListSpecs(projectPath)
			if err != nil {
				return fmt.Errorf("list specs: %w", err)
			}

			bus := events.New(events.WithLogger(logger))
			subscribeEventLog(bus, logger)
			sup := runner.NewSupervisor(runner.Options{
				Logger:          logger,
				Bus:             bus,
				SessionTimeout:  cfg.SessionTimeout,
				GracePeriod:     cfg.GracePeriod,
				LogMaxLines:     cfg.LogMaxLines,
				ResetOnActivity: cfg.ResetOnActivity,
				ProviderOptions: provider.Options{ClaudeModel: cfg.ClaudeModel},
			})

			model, err := tui.New(tui.Options{
				Controller:   sup,
				ProjectPath:  projectPath,
				Provider:     providerName,
				Overrides:    configOverrides(cfg),
				Specs:        specs,
				PollInterval: cfg.PollInterval,
				Reload: func() (string, []provider.ConfigOverride, error) {
					fresh, err := config.Load(cmd.Context())
					if err != nil {
						return "", nil, err
					}
					return fresh.DefaultProvider, configOverrides(fresh), nil
				},
			})
			if err != nil {
				return fmt.Errorf("build dashboard: %w", err)
			}

			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("run dashboard: %w", err)
			}
			sup.Shutdown()
			if code := sup.ExitCode(); code != 0 {
				return exitCodeError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectPath, "project", "", "project root (defaults to the working directory)")
	cmd.Flags().StringVar(&providerName, "provider", "", "agent provider for new sessions")
	return cmd
}

func newStatusCommand(logger *log.Logger) *cobra.Command {
	var projectPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task progress per spec",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if projectPath == "" {
				workingDir, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				projectPath = workingDir
			}

			specs, err := runner.ListSpecs(projectPath)
			if err != nil {
				return fmt.Errorf("list specs: %w", err)
			}
			if len(specs) == 0 {
				cmd.Println("no specs found under " + runner.SpecsDir(projectPath))
				return nil
			}

			for _, spec := range specs {
				tasksPath := runner.TasksPath(projectPath, spec)
				progress, err := taskdoc.Parse(tasksPath)
				if err != nil {
					logger.With("spec", spec, "error", err).Warn("task document unreadable")
					cmd.Printf("%-24s %s\n", spec, "unreadable: "+err.Error())
					for _, diagnostic := range taskDiagnostics(tasksPath) {
						cmd.Printf("%-24s   %s\n", "", diagnostic)
					}
					continue
				}
				cmd.Printf("%-24s %d/%d done, %d in progress (%.0f%%)\n",
					spec, progress.Completed, progress.Total(), progress.InProgress, progress.Percentage())
			}

			availability := provider.DetectAvailability()
			cmd.Println("providers: " + formatAvailability(availability))
			return nil
		},
	}

	cmd.Flags().StringVar(&projectPath, "project", "", "project root (defaults to the working directory)")
	return cmd
}

// subscribeEventLog mirrors every session event into the runtime log so the
// JSON log file carries the full lifecycle record alongside the dashboard.
func subscribeEventLog(bus events.Bus, logger *log.Logger) {
	bus.SubscribeAll(func(event events.Event) {
		record := logger.With(
			"event", event.Type,
			"spec", event.Spec,
			"payload", fmt.Sprintf("%v", event.Payload),
		)
		switch event.Severity {
		case events.SeverityError:
			record.Error("session event")
		case events.SeverityWarn:
			record.Warn("session event")
		default:
			record.Info("session event")
		}
	})
}

// taskDiagnostics explains why a task document failed to parse. An unreadable
// file yields no diagnostics; the parse error already covers that case.
func taskDiagnostics(path string) []string {
	data, err := os.ReadFile(path) // #nosec G304 -- path is a project-local task document.
	if err != nil {
		return nil
	}
	return taskdoc.Validate(string(data))
}

func configOverrides(cfg *config.Config) []provider.ConfigOverride {
	overrides := make([]provider.ConfigOverride, 0, len(cfg.Overrides))
	for _, override := range cfg.Overrides {
		overrides = append(overrides, provider.ConfigOverride{Key: override.Key, Value: override.Value})
	}
	return overrides
}

func formatAvailability(availability provider.Availability) string {
	available := availability.Available()
	if len(available) == 0 {
		return "none available"
	}
	return strings.Join(available, ", ")
}
