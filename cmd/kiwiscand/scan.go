package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one simulated scan and print the finished scene",
		Long: `Prepare and start a capture, wait for it to stop on the frame threshold,
let the reconstruction refine, then finalize and print the scene.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "give up after this long")
	cmd.Flags().Int("passes", 0, "finalize after this many mesh passes (default simulator.mesh_passes)")
	cmd.Flags().StringP("output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	passes, _ := cmd.Flags().GetInt("passes")
	if passes <= 0 {
		passes = cfg.Simulator.MeshPasses
	}
	format, _ := cmd.Flags().GetString("output")
	if format != "yaml" && format != "json" {
		return fmt.Errorf("unknown output format %q", format)
	}

	log := logging.New(cmd.ErrOrStderr(), cfg.Log.Level)
	sess := newSession(cfg, feedback.LogActuator{Log: log.WithComponent("feedback")}, log)
	defer sess.Close()

	// Handlers run on the control context; they only hand values over.
	states := make(chan scanner.State, 16)
	meshes := make(chan *engine.Mesh, 16)
	defer sess.Bus().State.Subscribe(func(s scanner.State) {
		select {
		case states <- s:
		default:
		}
	})()
	defer sess.Bus().Mesh.Subscribe(func(m *engine.Mesh) {
		if m == nil {
			return
		}
		select {
		case meshes <- m:
		default:
		}
	})()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if err := sess.Prepare(); err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		return err
	}

	if err := waitViewing(ctx, states); err != nil {
		if cerr := sess.Cancel(); cerr != nil {
			log.Warn("cancel after failed wait", "error", cerr)
		}
		return err
	}
	if err := waitPasses(ctx, meshes, passes); err != nil {
		return err
	}

	if err := sess.FinalizeViewer(); err != nil {
		return err
	}
	scene := sess.Bus().Scene.Value()
	if scene == nil {
		if d := sess.Bus().Diagnostics.Value(); d != nil {
			return fmt.Errorf("%s: %s", d.Command, d.Error)
		}
		return scanner.ErrNoScene
	}

	var data []byte
	if format == "json" {
		data, err = json.MarshalIndent(scene, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(scene)
	}
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// waitViewing blocks until the session reaches Viewing. Falling back to
// Ready first means the capture was canceled.
func waitViewing(ctx context.Context, states <-chan scanner.State) error {
	scanning := false
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for capture: %w", ctx.Err())
		case s := <-states:
			switch s {
			case scanner.Scanning:
				scanning = true
			case scanner.Viewing:
				return nil
			case scanner.Ready:
				if scanning {
					return errors.New("capture canceled")
				}
			}
		}
	}
}

func waitPasses(ctx context.Context, meshes <-chan *engine.Mesh, passes int) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for mesh pass %d: %w", passes, ctx.Err())
		case m := <-meshes:
			if m.Pass >= passes {
				return nil
			}
		}
	}
}
