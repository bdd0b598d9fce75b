package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tasklist/internal/state"
	"tasklist/internal/todo"
)

type notFoundError struct {
	id string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.id)
}

type ambiguousError struct {
	prefix  string
	matches int
}

func (e ambiguousError) Error() string {
	return fmt.Sprintf("id prefix %q matches %d tasks", e.prefix, e.matches)
}

// resolveID expands a unique id prefix against the loaded items.
func resolveID(items []todo.Item, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	var found []string
	for _, it := range items {
		if it.ID == prefix {
			return it.ID, nil
		}
		if prefix != "" && strings.HasPrefix(it.ID, prefix) {
			found = append(found, it.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", notFoundError{id: prefix}
	case 1:
		return found[0], nil
	default:
		return "", ambiguousError{prefix: prefix, matches: len(found)}
	}
}

func newAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title...>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			if _, ok := todo.CleanTitle(title); !ok {
				return fmt.Errorf("title cannot be empty")
			}
			return app.withController(cmd.Context(), func(ctx context.Context) error {
				if err := app.apply(ctx, state.AddItem{Title: title}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Added task")
				return nil
			})
		},
	}
}

func newToggleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a task between open and completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withController(cmd.Context(), func(ctx context.Context) error {
				id, err := resolveID(app.ctrl.CurrentState().Items, args[0])
				if err != nil {
					return err
				}
				if err := app.apply(ctx, state.ToggleItem{ID: id}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Toggled task")
				return nil
			})
		},
	}
}

func newRenameCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Change a task's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")
			if _, ok := todo.CleanTitle(title); !ok {
				return fmt.Errorf("title cannot be empty")
			}
			return app.withController(cmd.Context(), func(ctx context.Context) error {
				id, err := resolveID(app.ctrl.CurrentState().Items, args[0])
				if err != nil {
					return err
				}
				if err := app.apply(ctx, state.RenameItem{ID: id, Title: title}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Renamed task")
				return nil
			})
		},
	}
}

func newRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withController(cmd.Context(), func(ctx context.Context) error {
				id, err := resolveID(app.ctrl.CurrentState().Items, args[0])
				if err != nil {
					return err
				}
				if err := app.apply(ctx, state.DeleteItem{ID: id}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted task")
				return nil
			})
		},
	}
}

func newClearCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.withController(cmd.Context(), func(ctx context.Context) error {
				if err := app.apply(ctx, state.DeleteAllItems{}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted all tasks")
				return nil
			})
		},
	}
}

func newListCmd(app *App) *cobra.Command {
	var filter, format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := todo.FilterAll
			if filter != "" {
				var ok bool
				if f, ok = todo.ParseFilter(filter); !ok {
					return fmt.Errorf("unknown filter %q (want all, active or completed)", filter)
				}
			}
			return app.withController(cmd.Context(), func(ctx context.Context) error {
				if err := app.apply(ctx, state.SetFilter{Filter: f}); err != nil {
					return err
				}
				return writeList(cmd.OutOrStdout(), app.ctrl.CurrentState(), format)
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "all, active or completed (default all)")
	cmd.Flags().StringVar(&format, "format", "text", "text, json or yaml")
	return cmd
}

func writeList(w io.Writer, s state.ViewState, format string) error {
	items := s.FilteredItems()
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		for _, it := range items {
			box := "[ ]"
			if it.Completed {
				box = "[x]"
			}
			fmt.Fprintf(w, "%s %s %s\n", box, shortID(it.ID), it.Title)
		}
		fmt.Fprintf(w, "%d active • %d completed\n", s.ActiveCount(), s.CompletedCount())
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(items)
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
