package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lhdbsbz/flowbridge/internal/bridge"
	"github.com/lhdbsbz/flowbridge/internal/config"
	"github.com/lhdbsbz/flowbridge/internal/cron"
	"github.com/lhdbsbz/flowbridge/internal/dispatch"
	"github.com/lhdbsbz/flowbridge/internal/gateway"
	"github.com/lhdbsbz/flowbridge/internal/message"
	"github.com/lhdbsbz/flowbridge/internal/session"
	"github.com/lhdbsbz/flowbridge/internal/voiceflow"
	"github.com/lhdbsbz/flowbridge/internal/whatsapp"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "flowbridge",
	Short:         "WhatsApp to Voiceflow dialog bridge",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowbridge v%s\n", version)
		},
	}
}

func newInitCmd() *cobra.Command {
	var (
		cfgPath string
		fromEnv bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolveConfigPath(cfgPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if fromEnv {
				config.LoadDotEnv()
				cfg, err := config.LoadFromExample()
				if err != nil {
					return err
				}
				if cfg.Gateway.Auth.Token == "" {
					cfg.Gateway.Auth.Token = config.GenerateToken()
				}
				if err := config.Write(path, cfg); err != nil {
					return err
				}
			} else if err := config.CreateFromExample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path (default $FLOWBRIDGE_HOME/config.yaml)")
	cmd.Flags().BoolVar(&fromEnv, "from-env", false, "resolve ${VAR} placeholders from the current environment")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newServeCmd() *cobra.Command {
	var (
		cfgPath string
		envFile string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfgPath, envFile)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path (default $FLOWBRIDGE_HOME/config.yaml)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

func serve(parent context.Context, cfgPath, envFile string) error {
	config.LoadDotEnv(envFile)

	path := config.ResolveConfigPath(cfgPath)
	watchPath := path
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg, err = config.LoadFromExample()
		if err != nil {
			return err
		}
		watchPath = ""
	}
	config.Set(cfg)

	slog.SetDefault(newLogger(os.Stdout, cfg.Log))
	if watchPath == "" {
		slog.Info("config file not found, using environment", "path", path)
	}
	slog.Info("flowbridge starting", "version", version, "versionID", cfg.Voiceflow.VersionID,
		"archiving", cfg.Voiceflow.ArchivingEnabled())

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutdown signal received", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	timers := message.NewNoReplyScheduler()
	defer timers.Stop()

	svc := bridge.NewService(session.NewStore(), timers, buildDeps(cfg))

	jobs := cron.NewScheduler()
	sweep, err := jobs.Add("session-sweep", cfg.Sessions.SweepSchedule, func(context.Context) error {
		svc.SweepIdle(config.Get().Sessions.IdleTTL)
		return nil
	})
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	config.RegisterOnReload(func(c *config.Config) {
		slog.SetDefault(newLogger(os.Stdout, c.Log))
		svc.Reconfigure(buildDeps(c))
		if err := jobs.Reschedule(sweep.ID, c.Sessions.SweepSchedule); err != nil {
			slog.Warn("sweep schedule not updated", "error", err)
		}
	})
	if watchPath != "" {
		go config.Watch(ctx, watchPath)
	}

	srv := gateway.NewServer(svc, message.NewDedup(ctx, cfg.WhatsApp.DedupTTL), jobs)
	return srv.Start(ctx)
}

// buildDeps creates the platform and engine clients for cfg.
func buildDeps(cfg *config.Config) bridge.Deps {
	wa := whatsapp.NewClient(cfg.WhatsApp.GraphURL, cfg.WhatsApp.Version, cfg.WhatsApp.Token)

	vf := voiceflow.NewClient(cfg.Voiceflow.BaseURL, cfg.Voiceflow.APIKey, cfg.Voiceflow.VersionID)
	vf.TranscriptURL = cfg.Voiceflow.TranscriptURL

	return bridge.Deps{
		Engine: vf,
		Dispatcher: dispatch.New(wa, dispatch.Options{
			PacingPerKB:   cfg.Dispatch.MediaPacingPerKB,
			ProbeFallback: cfg.Dispatch.MediaProbeFallback,
			RateLimit:     cfg.Dispatch.RateLimit,
			RateBurst:     cfg.Dispatch.RateBurst,
		}),
		Archiver: &bridge.Archiver{
			Saver:     vf,
			VersionID: cfg.Voiceflow.VersionID,
			ProjectID: cfg.Voiceflow.ProjectID,
			Icon:      cfg.Voiceflow.TranscriptIcon,
		},
		VersionID: cfg.Voiceflow.VersionID,
	}
}
