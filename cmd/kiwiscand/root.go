package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kiwi-scanner/sdk/internal/config"
	"github.com/kiwi-scanner/sdk/internal/engine/sim"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/health"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/kiwi-scanner/sdk/internal/settings"
	"github.com/kiwi-scanner/sdk/internal/stats"
	"github.com/kiwi-scanner/sdk/internal/ws"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kiwiscand",
		Short: "Scan session daemon",
		Long: `kiwiscand runs one scan session against the simulated capture and
reconstruction engines and serves it over HTTP and websocket.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/kiwiscan/config.yaml)")
	root.PersistentFlags().String("log-level", "", "override log.level (DEBUG, INFO, WARN, ERROR, OFF)")
	root.Flags().IntP("port", "p", 0, "override server.port")
	root.Flags().String("host", "", "override server.host")

	root.AddCommand(newSettingsCmd(), newScanCmd())
	return root
}

// loadConfig reads the config named by --config and applies flag overrides.
// Out-of-range values are reported on stderr and kept.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return cfg, nil
}

// newSession builds a session on the simulated engines.
func newSession(cfg *config.Config, actuator feedback.Actuator, log *logging.Logger) *scanner.Session {
	return scanner.New(scanner.Options{
		Settings:       settings.NewStore(cfg.Scanner),
		Capture:        sim.NewCaptureFactory(cfg.Simulator),
		Reconstruction: sim.NewReconstructionFactory(cfg.Simulator),
		Actuator:       actuator,
		Feedback:       cfg.Feedback,
		Logger:         log,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}

	log, err := logging.NewFile(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer log.Close()
	slog.SetDefault(log.Slog())

	fan := feedback.NewFanout(feedback.LogActuator{Log: log.WithComponent("feedback")})
	sess := newSession(cfg, fan, log)
	defer sess.Close()

	broadcaster := ws.NewBroadcaster(sess.ID(), sess.Bus(), log)
	defer broadcaster.Close()
	fan.Add(broadcaster)

	server := ws.NewServer(sess, broadcaster, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, log)

	if checker, err := health.NewChecker(); err != nil {
		log.Warn("health checks disabled", "error", err)
	} else {
		server.SetHealthChecker(checker)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	var statsDone chan struct{}
	if cfg.Stats.Enabled {
		tracker, err := stats.NewTracker(stats.NewStore(cfg.Stats.Dir), cfg.Stats.SaveInterval, log)
		if err != nil {
			log.Warn("stats disabled", "error", err)
		} else {
			server.SetStatsTracker(tracker)
			defer tracker.Observe(sess.Bus())()
			statsDone = make(chan struct{})
			go func() {
				defer close(statsDone)
				tracker.Run(ctx)
			}()
		}
	}

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	log.Info("starting", "session_id", sess.ID(), "auth", cfg.Server.AuthToken != "")
	err = ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, mux, log)
	if err != nil {
		log.Error("server error", "error", err)
	}
	log.Info("shutting down")
	cancel()
	if statsDone != nil {
		<-statsDone
	}
	return err
}
