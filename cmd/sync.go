package cmd

import (
	"fmt"

	"github.com/apex/log"
	"github.com/charmbracelet/huh"
	"github.com/goccy/go-json"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/reynalivan/emm-core/library"
	"github.com/reynalivan/emm-core/reconcile"
)

var syncArgs struct {
	Apply bool
	Yes   bool
	JSON  bool
	All   bool
}

func newSyncCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "sync [library]",
		Short: "Reconciles a mod library against its reference database.",
		Long: "Compares the object folders of a library with the records of its reference database and " +
			"reports the differences. With --apply the engine creates the folders records are missing and " +
			"patches stale sidecar metadata, everything else is left untouched.",
		Args: cobra.MaximumNArgs(1),
		PreRun: func(cmd *cobra.Command, _ []string) {
			initConfig()
			initCliLogging()
		},
		Run: syncCmdRun,
	}

	command.Flags().BoolVar(&syncArgs.Apply, "apply", false, "write the planned changes instead of only reporting them")
	command.Flags().BoolVar(&syncArgs.Yes, "yes", false, "skip the confirmation prompt before applying")
	command.Flags().BoolVar(&syncArgs.JSON, "json", false, "emit the plan as json")
	command.Flags().BoolVar(&syncArgs.All, "all", false, "reconcile every configured library")

	return command
}

func syncCmdRun(cmd *cobra.Command, args []string) {
	manager := bootManager(cmd.Context())
	if syncArgs.All {
		if len(args) > 0 {
			log.Fatal("--all cannot be combined with a library selector")
		}
		syncAllCmdRun(cmd, manager)
		return
	}
	l := resolveLibrary(manager, args)

	if len(l.Refs()) == 0 {
		log.WithField("library", l.Name()).Fatal("no reference database is installed for this library")
	}

	plan, err := l.Sync(cmd.Context(), !syncArgs.Apply)
	if err != nil {
		log.WithField("error", err).Fatal("failed to reconcile library")
	}

	if syncArgs.JSON {
		b, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			log.WithField("error", err).Fatal("failed to encode plan")
		}
		fmt.Println(string(b))
	} else {
		printPlan(plan)
	}

	if !plan.Changes() {
		log.Info("library already matches the reference database")
		return
	}
	if !syncArgs.Apply {
		fmt.Println("Re-run with --apply to write these changes.")
		return
	}

	if !syncArgs.Yes {
		confirmed := false
		creates, patches, _ := plan.Counts()
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Create %d folder(s) and patch %d sidecar(s) in %q?", creates, patches, l.Name())).
			Value(&confirmed)
		if err := prompt.Run(); err != nil || !confirmed {
			fmt.Println("Aborted, nothing was changed.")
			return
		}
	}

	summary, err := l.ApplySync(cmd.Context(), plan)
	if err != nil {
		log.WithField("error", err).Error("apply finished with failures")
	}
	if summary != nil {
		colorstring.Printf("\n[green]%d created[reset], [yellow]%d updated[reset], [red]%d failed[reset], %d skipped\n",
			summary.Created, summary.Updated, summary.Failed, summary.Skipped)
		for _, f := range summary.Failures {
			log.Warn(f)
		}
	}

	if err := library.FlushActivity(cmd.Context(), 0); err != nil {
		log.WithField("error", err).Warn("failed to flush activity rows")
	}
}

// syncAllCmdRun reconciles every configured library. Without --apply the
// plans are printed one after another; with it the syncs run as one
// workflow batch and the per-library outcomes are summarized at the end.
func syncAllCmdRun(cmd *cobra.Command, manager *library.Manager) {
	libs := manager.All()
	if len(libs) == 0 {
		log.Fatal("no libraries are configured")
	}

	if !syncArgs.Apply {
		plans := make(map[string]*reconcile.Plan, len(libs))
		for _, l := range libs {
			if len(l.Refs()) == 0 {
				log.WithField("library", l.Name()).Warn("no reference database is installed for this library")
				continue
			}
			plan, err := l.Sync(cmd.Context(), true)
			if err != nil {
				log.WithFields(log.Fields{"library": l.Name(), "error": err}).Error("failed to reconcile library")
				continue
			}
			plans[l.Name()] = plan
			if !syncArgs.JSON {
				colorstring.Printf("\n[bold]%s[reset] (%s)\n", l.Name(), l.Type())
				printPlan(plan)
			}
		}
		if syncArgs.JSON {
			b, err := json.MarshalIndent(plans, "", "  ")
			if err != nil {
				log.WithField("error", err).Fatal("failed to encode plans")
			}
			fmt.Println(string(b))
			return
		}
		fmt.Println("Re-run with --apply to write these changes.")
		return
	}

	if !syncArgs.Yes {
		confirmed := false
		prompt := huh.NewConfirm().
			Title(fmt.Sprintf("Reconcile %d libraries against their reference databases?", len(libs))).
			Value(&confirmed)
		if err := prompt.Run(); err != nil || !confirmed {
			fmt.Println("Aborted, nothing was changed.")
			return
		}
	}

	summaries, err := manager.SyncAll(cmd.Context())
	if err != nil {
		log.WithField("error", err).Error("apply finished with failures")
	}
	fmt.Println()
	for i, s := range summaries {
		if s == nil {
			colorstring.Printf("[red]%s: sync failed[reset]\n", libs[i].Name())
			continue
		}
		colorstring.Printf("%s: [green]%d created[reset], [yellow]%d updated[reset], [red]%d failed[reset], %d skipped\n",
			libs[i].Name(), s.Created, s.Updated, s.Failed, s.Skipped)
		for _, f := range s.Failures {
			log.Warn(f)
		}
	}

	if err := library.FlushActivity(cmd.Context(), 0); err != nil {
		log.WithField("error", err).Warn("failed to flush activity rows")
	}
}

func printPlan(plan *reconcile.Plan) {
	fmt.Println()
	for _, a := range plan.Actions {
		c := a.Candidate
		switch a.Op {
		case reconcile.OpCreate:
			colorstring.Printf("  [green]create[reset]  %s\n", c.Object.Name)
		case reconcile.OpPatch:
			colorstring.Printf("  [yellow]patch[reset]   %s\n", c.Entry.DisplayName)
			for _, d := range c.Diffs {
				if d.Local == "" {
					fmt.Printf("            %s: set to %q\n", d.Field, d.Want)
				} else {
					fmt.Printf("            %s: %q -> %q\n", d.Field, d.Local, d.Want)
				}
			}
		case reconcile.OpSkip:
			if c.Status == reconcile.StatusExtraOnDisk {
				colorstring.Printf("  [dark_gray]extra[reset]   %s\n", c.Entry.DisplayName)
			}
		}
	}

	creates, patches, skips := plan.Counts()
	fmt.Printf("\n%d to create, %d to patch, %d in sync or unmatched\n\n", creates, patches, skips)
}
