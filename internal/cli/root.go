package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tasklist/internal/config"
	"tasklist/internal/repository"
	"tasklist/internal/state"
	"tasklist/internal/storage"
	"tasklist/internal/ui"
)

const readyTimeout = 10 * time.Second

type App struct {
	ConfigPath string
	DBPath     string

	cfg     config.Config
	log     *slog.Logger
	logFile *os.File
	store   *storage.Store
	ctrl    *state.Controller
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "todo",
		Short:        "Single-user task list",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Start the interactive TUI
  todo

  # Scriptable commands
  todo add Buy milk
  todo list --filter active --format json
  todo toggle 3f2a
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return app.withController(cmd.Context(), func(ctx context.Context) error {
				if f := app.cfg.Filter(); f != app.ctrl.CurrentState().Filter {
					app.ctrl.Dispatch(state.SetFilter{Filter: f})
				}
				return ui.Run(app.ctrl, app.cfg)
			})
		},
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "config file (default $TASKLIST_CONFIG or the user config dir)")
	cmd.PersistentFlags().StringVar(&app.DBPath, "db", "", "database path (overrides db_path from the config)")

	cmd.AddCommand(
		newAddCmd(app),
		newToggleCmd(app),
		newRenameCmd(app),
		newRemoveCmd(app),
		newClearCmd(app),
		newListCmd(app),
	)
	return cmd
}

// withController opens everything a command needs, waits for the first
// snapshot, runs fn and tears it all down again.
func (a *App) withController(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.open(); err != nil {
		return err
	}
	defer a.close()

	select {
	case <-a.ctrl.Ready():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(readyTimeout):
		return errors.New("timed out loading tasks")
	}
	if msg := a.ctrl.CurrentState().Error; msg != "" {
		return errors.New(msg)
	}
	return fn(ctx)
}

func (a *App) open() error {
	path := a.ConfigPath
	if path == "" {
		path = config.ResolveConfigPath()
	}
	cfg, err := config.LoadOrCreate(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.DBPath != "" {
		cfg.DBPath = a.DBPath
	}
	a.cfg = cfg

	a.log, a.logFile = openLog(cfg)

	store, err := storage.Open(cfg.DBPath, storage.WithLogger(a.log))
	if err != nil {
		a.closeLog()
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store

	ctrl, err := state.New(repository.New(store), state.WithLogger(a.log))
	if err != nil {
		_ = store.Close()
		a.closeLog()
		return fmt.Errorf("failed to start controller: %w", err)
	}
	a.ctrl = ctrl
	return nil
}

func (a *App) close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store", "err", err)
		}
	}
	a.closeLog()
}

func (a *App) closeLog() {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// openLog appends to the configured log file. Logging is best effort: a
// file that cannot be opened silences the logger instead of failing.
func openLog(cfg config.Config) (*slog.Logger, *os.File) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.LogFile == "" {
		return discard, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return discard, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return discard, nil
	}
	return slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: cfg.SlogLevel()})), f
}

// apply dispatches in, waits for it to finish and reports any error it
// left in the view state.
func (a *App) apply(ctx context.Context, in state.Intent) error {
	a.ctrl.Dispatch(in)
	if err := a.ctrl.Wait(ctx); err != nil {
		return err
	}
	if msg := a.ctrl.CurrentState().Error; msg != "" {
		return errors.New(msg)
	}
	return nil
}
