package cmd

import (
	"context"
	"fmt"
	log2 "log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/internal/cron"
	"github.com/reynalivan/emm-core/internal/database"
	"github.com/reynalivan/emm-core/library"
	"github.com/reynalivan/emm-core/loggers/cli"
	"github.com/reynalivan/emm-core/system"
)

var (
	configPath = config.DefaultLocation
	debug      = false
)

var rootCommand = &cobra.Command{
	Use:   "emm-core",
	Short: "Runs the mod library engine that scans, reconciles and organizes model-injection mod folders.",
	PreRun: func(cmd *cobra.Command, _ []string) {
		initConfig()
		initLogging()
	},
	Run: rootCmdRun,
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Prints the current executable version and exits.",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("emm-core v%s\n", system.Version)
	},
}

func Execute() {
	if err := rootCommand.Execute(); err != nil {
		log2.Fatalf("failed to execute command: %s", err)
	}
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	rootCommand.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run the engine in debug mode")

	rootCommand.AddCommand(versionCommand, configureCmd, newScanCommand(), newSyncCommand(), newDiagnosticsCommand(), newSelfupdateCommand())
}

// rootCmdRun boots the engine in daemon mode: every configured library is
// loaded, the background jobs are started and the process then waits for a
// termination signal before flushing state back to the disk.
func rootCmdRun(cmd *cobra.Command, _ []string) {
	printLogo()
	log.Debug("running in debug mode")
	log.WithField("config_file", configPath).Info("loading configuration from file")

	if err := config.ConfigureTimezone(); err != nil {
		log.WithField("error", err).Fatal("failed to detect system timezone or use supplied configuration value")
	}
	log.WithField("timezone", config.Get().System.Timezone).Info("configured engine with system timezone")
	if err := config.ConfigureDirectories(); err != nil {
		log.WithField("error", err).Fatal("failed to configure system directories for engine")
	}
	if err := config.EnableLogRotation(); err != nil {
		log.WithField("error", err).Fatal("failed to configure log rotation on the host")
	}

	if err := database.Initialize(); err != nil {
		log.WithField("error", err).Fatal("failed to initialize the activity database")
	}

	manager, err := library.NewManager(cmd.Context())
	if err != nil {
		log.WithField("error", err).Fatal("failed to load configured mod libraries")
	}
	for _, l := range manager.All() {
		l.Log().WithFields(log.Fields{"name": l.Name(), "type": l.Type(), "path": l.Path()}).Info("loaded mod library")
	}

	if s, err := cron.Scheduler(cmd.Context(), manager); err != nil {
		log.WithField("error", err).Fatal("failed to initialize cron system")
	} else {
		log.WithField("subsystem", "cron").Info("starting cron processes")
		s.Start()
	}

	log.WithField("libraries", len(manager.All())).Info("engine is ready")

	// Wait for a termination signal before beginning the shutdown sequence.
	channel := make(chan os.Signal, 1)
	signal.Notify(channel, os.Interrupt, syscall.SIGTERM)
	<-channel

	log.Info("received termination signal, flushing state and shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()

	if err := manager.Flush(); err != nil {
		log.WithField("error", err).Error("failed to flush reference databases to disk")
	}
	if err := library.FlushActivity(ctx, 0); err != nil {
		log.WithField("error", err).Error("failed to flush pending activity rows")
	}
	for _, l := range manager.All() {
		l.CtxCancel()
	}
}

// Reads the configuration from the disk and then sets up the global singleton
// with all the configuration values.
func initConfig() {
	if !filepath.IsAbs(configPath) {
		d, err := os.Getwd()
		if err != nil {
			log2.Fatalf("cmd/root: could not determine directory: %s", err)
		}
		configPath = filepath.Clean(filepath.Join(d, configPath))
	}
	err := config.FromFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			exitWithConfigurationNotice()
		}
		log2.Fatalf("cmd/root: error while reading configuration file: %s", err)
	}
	if debug && !config.Get().Debug {
		config.SetDebugViaFlag(debug)
	}
}

// Configures the global logger so that any place in the codebase can emit
// structured logs without passing an instance around.
func initLogging() {
	dir := config.Get().System.LogDirectory
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log2.Fatalf("cmd/root: failed to create log directory: %s", err)
	}
	p := filepath.Join(dir, "emm.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		log2.Fatalf("cmd/root: failed to create emm log: %s", err)
	}
	log.SetLevel(log.InfoLevel)
	if config.Get().Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(multi.New(cli.Default, cli.New(w, false)))
	log.WithField("path", p).Info("writing log files to disk")
}

// initCliLogging configures logging for the one-shot commands where a log
// file would be noise, output only goes to the terminal.
func initCliLogging() {
	log.SetLevel(log.InfoLevel)
	if config.Get().Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.SetHandler(cli.Default)
}

// bootManager prepares everything a one-shot command needs to operate on
// libraries: directories, the activity database and the manager itself.
func bootManager(ctx context.Context) *library.Manager {
	if err := config.ConfigureDirectories(); err != nil {
		log.WithField("error", err).Fatal("failed to configure system directories for engine")
	}
	if err := database.Initialize(); err != nil {
		log.WithField("error", err).Fatal("failed to initialize the activity database")
	}
	manager, err := library.NewManager(ctx)
	if err != nil {
		log.WithField("error", err).Fatal("failed to load configured mod libraries")
	}
	return manager
}

// resolveLibrary picks the library a command operates on: the one named by
// the selector, or the only configured one when the selector is omitted.
func resolveLibrary(manager *library.Manager, args []string) *library.Library {
	all := manager.All()
	if len(args) == 0 {
		if len(all) == 1 {
			return all[0]
		}
		names := make([]string, len(all))
		for i, l := range all {
			names[i] = l.Name()
		}
		log.WithField("libraries", strings.Join(names, ", ")).Fatal("multiple libraries are configured, pass the name or id of one")
		return nil
	}
	l := manager.Get(args[0])
	if l == nil {
		log.WithField("selector", args[0]).Fatal("no configured library matches the selector")
	}
	return l
}

func printLogo() {
	fmt.Printf(colorstring.Color(`
    ______ __  ___ __  ___
   / ____//  |/  //  |/  /
  / __/  / /|_/ // /|_/ /         [blue][bold]EMM Core[reset]
 / /___ / /  / // /  / /
/_____//_/  /_//_/  /_/  [bold]v%s[reset]

Copyright © 2024 - %d reynalivan & Contributors

 Source:  https://github.com/reynalivan/emm-core
License:  https://github.com/reynalivan/emm-core/blob/main/LICENSE

This software is made available under the terms of the MIT license.%s`), system.Version, time.Now().Year(), "\n\n")
}

func exitWithConfigurationNotice() {
	fmt.Print(colorstring.Color(`
[_red_][white][bold]Error: Configuration File Not Found[reset]

The engine was not able to locate your configuration file, and therefore is
not able to complete its boot process. Please run the command below to build
an initial configuration file, or point at an existing one with --config.

    emm-core configure

Default Location: ` + config.DefaultLocation + `
`))
	os.Exit(1)
}
