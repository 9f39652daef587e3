package cmd

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/goccy/go-json"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/reynalivan/emm-core/library"
	"github.com/reynalivan/emm-core/scanner"
)

var scanArgs struct {
	Hydrate bool
	JSON    bool
}

func newScanCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "scan [library]",
		Short: "Scans a mod library and prints every object folder with its state.",
		Args:  cobra.MaximumNArgs(1),
		PreRun: func(cmd *cobra.Command, _ []string) {
			initConfig()
			initCliLogging()
		},
		Run: scanCmdRun,
	}

	command.Flags().BoolVar(&scanArgs.Hydrate, "hydrate", false, "read sidecar metadata for every folder")
	command.Flags().BoolVar(&scanArgs.JSON, "json", false, "emit the scan result as json")

	return command
}

func scanCmdRun(cmd *cobra.Command, args []string) {
	manager := bootManager(cmd.Context())
	l := resolveLibrary(manager, args)

	res, err := l.Scan(cmd.Context())
	if err != nil {
		log.WithField("error", err).Fatal("failed to scan library")
	}
	if scanArgs.Hydrate {
		s := l.Scanner()
		for i := range res.Entries {
			e := &res.Entries[i]
			if e.Kind == scanner.KindUnmanaged || !e.IsDir {
				continue
			}
			if err := s.Hydrate(e); err != nil {
				log.WithField("path", e.Path).WithError(err).Warn("failed to read sidecar metadata")
			}
		}
	}

	l.RecordActivity(library.ActivityScan, map[string]interface{}{
		"entries":      len(res.Entries),
		"inaccessible": len(res.Inaccessible),
	})

	if scanArgs.JSON {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			log.WithField("error", err).Fatal("failed to encode scan result")
		}
		fmt.Println(string(b))
	} else {
		printScanResult(l, res)
	}

	if err := library.FlushActivity(cmd.Context(), 0); err != nil {
		log.WithField("error", err).Warn("failed to flush activity rows")
	}
}

func printScanResult(l *library.Library, res *scanner.Result) {
	fmt.Printf("\n%s (%s)\n%s\n\n", l.Name(), l.Type(), l.Path())

	for _, e := range res.Entries {
		state := "[green]enabled [reset]"
		if !e.Enabled {
			state = "[red]disabled[reset]"
		}
		badge := ""
		if e.Pinned {
			badge = " [yellow]pinned[reset]"
		}
		switch e.Kind {
		case scanner.KindUnmanaged:
			colorstring.Printf("  [dark_gray]%-9s %s[reset]\n", "ignored", e.Name)
		default:
			colorstring.Printf("  %-9s %s %s%s\n", string(e.Kind), state, e.DisplayName, badge)
		}
	}
	if len(res.Entries) == 0 {
		fmt.Println("  The library is empty.")
	}

	if len(res.Inaccessible) > 0 {
		fmt.Fprintln(os.Stderr)
		for _, in := range res.Inaccessible {
			log.WithField("path", in.Path).WithError(in.Err).Warn("folder could not be read")
		}
	}
	fmt.Println()
}
