package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"waitlist/api/internal/app"
	"waitlist/api/internal/config"
	"waitlist/api/internal/logging"
	"waitlist/api/internal/registry"
)

// env is the registry a command runs against, opened lazily so commands
// like validate work without a database.
type env struct {
	cfg      config.Config
	log      *logrus.Logger
	registry *registry.Registry
	closers  []func()
}

func (e *env) open(ctx context.Context) (*registry.Registry, error) {
	if e.registry != nil {
		return e.registry, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		e.log.SetLevel(level)
	}

	backend, closeBackend, err := app.OpenBackend(ctx, cfg, e.log, false)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closeBackend)
	sessions, local, err := app.OpenSessions(cfg, e.log)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() { _ = sessions.Close() })
	e.registry = registry.New(backend, local, e.log)
	return e.registry, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func newRootCmd() *cobra.Command {
	e := &env{log: logging.New("warn")}
	root := &cobra.Command{
		Use:           "waitlistctl",
		Short:         "Inspect and maintain the globe waitlist",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			e.log.SetOutput(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			e.close()
		},
	}
	root.AddCommand(
		newListCmd(e),
		newSizeCmd(e),
		newGetCmd(e),
		newAddCmd(e),
		newRemoveCmd(e),
		newClearCmd(e),
		newValidateCmd(),
		newHashAdminKeyCmd(),
		newSnapshotCmd(e),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
