package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/library"
)

var configureArgs struct {
	Path     string
	Override bool
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Builds the initial configuration file by probing a model importer installation.",
	Run:   configureCmdRun,
}

func init() {
	configureCmd.Flags().StringVar(&configureArgs.Path, "path", "", "the launcher or importer folder to probe for games")
	configureCmd.Flags().BoolVar(&configureArgs.Override, "override", false, "replace an existing configuration file without asking")
}

func configureCmdRun(*cobra.Command, []string) {
	if _, err := os.Stat(configPath); err == nil && !configureArgs.Override {
		replace := false
		prompt := huh.NewConfirm().
			Title("A configuration file already exists at " + configPath + ", replace it?").
			Description("The existing libraries and settings will be lost.").
			Value(&replace)
		if err := prompt.Run(); err != nil || !replace {
			fmt.Println("Aborted, the existing configuration was kept.")
			return
		}
	}

	cfg, err := config.NewAtPath(configPath)
	if err != nil {
		fmt.Println("Failed to build a default configuration:", err)
		os.Exit(1)
	}
	cfg.Uuid = uuid.New().String()

	if configureArgs.Path == "" {
		prompt := huh.NewInput().
			Title("Where is your model importer installed?").
			Description("Point at the launcher folder, a single importer folder (GIMI, SRMI, ZZMI, WWMI), or any file inside one.").
			Value(&configureArgs.Path)
		if err := prompt.Run(); err != nil {
			return
		}
	}

	proposals, err := library.ProposeGames(configureArgs.Path)
	if err != nil {
		fmt.Println("Failed to probe the given path:", err)
		os.Exit(1)
	}

	for _, p := range proposals {
		accept := true
		title := fmt.Sprintf("Manage %s mods at %s?", p.Name, p.ModsPath)
		if !p.ModsPathExists {
			title += " (the Mods folder will be created)"
		}
		if err := huh.NewConfirm().Title(title).Value(&accept).Run(); err != nil {
			return
		}
		if !accept {
			continue
		}
		if !p.ModsPathExists {
			if err := os.MkdirAll(p.ModsPath, 0o755); err != nil {
				fmt.Println("Failed to create the mods folder:", err)
				continue
			}
		}
		cfg.Games = append(cfg.Games, config.GameConfiguration{
			ID:       uuid.New().String(),
			Name:     p.Name,
			Type:     p.Type,
			ModsPath: p.ModsPath,
		})
	}

	if len(proposals) == 0 {
		colorstring.Println("[yellow]No importer folders were recognized at that path.[reset]")
		if g, ok := promptManualLibrary(); ok {
			cfg.Games = append(cfg.Games, g)
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Println("The assembled configuration is not valid:", err)
		os.Exit(1)
	}
	if err := config.WriteToDisk(cfg); err != nil {
		fmt.Println("Failed to write the configuration file:", err)
		os.Exit(1)
	}

	colorstring.Println("[green]Successfully configured emm-core.[reset]")
	fmt.Printf("Configuration written to %s with %d library(ies).\n", configPath, len(cfg.Games))
	fmt.Println("Run `emm-core scan` to take a first look at a library.")
}

// promptManualLibrary assembles a single library from free-form answers, for
// installations laid out in ways the probe does not recognize.
func promptManualLibrary() (config.GameConfiguration, bool) {
	g := config.GameConfiguration{ID: uuid.New().String()}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[config.GameType]().
				Title("Which importer family does this library belong to?").
				Options(
					huh.NewOption("Genshin Impact (GIMI)", config.GameTypeGIMI),
					huh.NewOption("Honkai: Star Rail (SRMI)", config.GameTypeSRMI),
					huh.NewOption("Zenless Zone Zero (ZZMI)", config.GameTypeZZMI),
					huh.NewOption("Wuthering Waves (WWMI)", config.GameTypeWWMI),
				).
				Value(&g.Type),
			huh.NewInput().
				Title("A label for this library").
				Value(&g.Name),
			huh.NewInput().
				Title("The full path of the Mods folder").
				Value(&g.ModsPath),
		),
	)
	if err := form.Run(); err != nil {
		return g, false
	}
	if g.Name == "" || g.ModsPath == "" {
		return g, false
	}
	return g, true
}
