package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Kamar-Folarin/mobile-sync/internal/app"
	"github.com/Kamar-Folarin/mobile-sync/internal/config"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/syncer"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered syncs and their latest run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			states, err := a.Manager.ListSyncs(ctx)
			if err != nil {
				return err
			}
			printStates(cmd.OutOrStdout(), states)
			return nil
		})
	},
}

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Run a sync until it finishes",
	Long: `Run one sync, selected by --id or --name, and wait for it to finish.

Interrupting the command cancels the run at its next checkpoint; the sync can be
resumed later from where it stopped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")
		name, _ := cmd.Flags().GetString("name")
		if (id == 0) == (name == "") {
			return fmt.Errorf("exactly one of --id or --name is required")
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			progress := func(s *models.SyncState) {
				fmt.Fprintf(out, "%s %s %d%%\n", s.Name, s.Status, s.Progress)
			}

			var (
				state *models.SyncState
				err   error
			)
			if name != "" {
				state, err = a.Manager.ReSyncByName(ctx, name, progress)
			} else {
				state, err = a.Manager.ReSync(ctx, id, progress)
			}
			if err != nil {
				return err
			}

			printStates(out, []*models.SyncState{state})
			if state.Status != models.StatusDone {
				return fmt.Errorf("sync %q ended as %s", state.Name, state.Status)
			}
			return nil
		})
	},
}

var cleanGhostsCmd = &cobra.Command{
	Use:   "clean-ghosts",
	Short: "Delete local records of a down-sync that no longer exist remotely",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")
		if id <= 0 {
			return fmt.Errorf("--id is required")
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			removed, err := a.Manager.CleanResyncGhosts(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d ghost record(s)\n", removed)
			return nil
		})
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Register the syncs of a definitions file",
	Long: `Register every sync of a JSON or YAML definitions file.

Syncs whose name is already registered are left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return fmt.Errorf("--file is required")
		}
		defs, err := config.LoadSyncDefinitions(path)
		if err != nil {
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return bootstrap(ctx, cmd.OutOrStdout(), a.Manager, defs)
		})
	},
}

func init() {
	resyncCmd.Flags().Int64("id", 0, "ID of the sync to run")
	resyncCmd.Flags().String("name", "", "Name of the sync to run")
	cleanGhostsCmd.Flags().Int64("id", 0, "ID of the down-sync to clean")
	bootstrapCmd.Flags().StringP("file", "f", "", "Path to the sync definitions file")
}

func bootstrap(ctx context.Context, out io.Writer, manager *syncer.Manager, defs *config.SyncDefinitions) error {
	created, err := manager.SetupSyncs(ctx, defs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Registered %d of %d sync(s)\n", created, len(defs.Syncs))
	return nil
}

func printStates(out io.Writer, states []*models.SyncState) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSOUP\tSTATUS\tPROGRESS\tTOTAL\tDETAILS")
	for _, s := range states {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d%%\t%d\t%s\n",
			s.ID, s.Name, s.Type, s.SoupName, s.Status, s.Progress, s.TotalSize, details(s))
	}
	w.Flush()
}

func details(s *models.SyncState) string {
	var parts []string
	if s.Error != "" {
		parts = append(parts, s.Error)
	}
	if n := len(s.Conflicts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d conflict(s)", n))
	}
	if n := len(s.Failures); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failure(s)", n))
	}
	return strings.Join(parts, "; ")
}
