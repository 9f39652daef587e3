package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/internal/selfupdate"
	"github.com/reynalivan/emm-core/system"
)

var updateArgs struct {
	repoOwner       string
	repoName        string
	force           bool
	fromURL         string
	sha256          string
	disableChecksum bool
}

func newSelfupdateCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "update",
		Short: "Update the engine binary to the latest release",
		Run:   selfupdateCmdRun,
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			initCliLogging()
		},
	}

	command.Flags().StringVar(&updateArgs.repoOwner, "repo-owner", "", "GitHub repository owner (defaults to system.updates.repo_owner)")
	command.Flags().StringVar(&updateArgs.repoName, "repo-name", "", "GitHub repository name (defaults to system.updates.repo_name)")
	command.Flags().BoolVar(&updateArgs.force, "force", false, "Force update even if on latest version")
	command.Flags().StringVar(&updateArgs.fromURL, "from-url", "", "Direct URL to download the updated engine binary")
	command.Flags().StringVar(&updateArgs.sha256, "from-url-sha256", "", "Expected SHA256 checksum for the --from-url download")
	command.Flags().BoolVar(&updateArgs.disableChecksum, "disable-checksum", false, "Skip checksum verification (use with caution)")

	return command
}

func selfupdateCmdRun(cmd *cobra.Command, _ []string) {
	if system.Version == "" {
		log.Fatal("current version is not defined")
	}
	if system.Version == "develop" && !updateArgs.force {
		fmt.Println("Running in development mode. Use --force to override.")
		return
	}
	fmt.Println("Current version:", system.Version)

	cfg := config.Get()
	updates := cfg.System.Updates
	owner := firstOf(updateArgs.repoOwner, updates.RepoOwner, "reynalivan")
	repo := firstOf(updateArgs.repoName, updates.RepoName, "emm-core")

	binaryName, err := selfupdate.DetermineBinaryName(updates.GitHubBinaryTemplate)
	if err != nil {
		log.WithField("error", err).Fatal("cannot determine a binary name for this platform")
	}

	ctx := cmd.Context()

	// A direct URL bypasses the GitHub release lookup entirely.
	if downloadURL := firstOf(updateArgs.fromURL, updates.DefaultURL); downloadURL != "" {
		if !updates.EnableURL {
			log.Fatal("url driven updates are disabled by the configuration")
		}
		checksum := firstOf(updateArgs.sha256, updates.DefaultSHA256)
		if checksum == "" && !updateArgs.disableChecksum {
			log.Fatal("a checksum is required for --from-url updates, provide --from-url-sha256 or --disable-checksum")
		}
		fmt.Println("Updating from direct URL:", downloadURL)
		if err := selfupdate.UpdateFromURL(ctx, downloadURL, binaryName, checksum, updateArgs.disableChecksum); err != nil {
			log.WithField("error", err).Fatal("update failed")
		}
		finishUpdate(cfg, "")
		return
	}

	release, err := selfupdate.FetchLatestReleaseInfo(ctx, owner, repo)
	if err != nil {
		log.WithField("error", err).Fatal("failed to fetch the latest release metadata")
	}
	if release.TagName == "" {
		log.Fatal("the latest release carries no tag name")
	}

	runningTag := "v" + system.Version
	if system.Version == "develop" {
		runningTag = system.Version
	}
	if release.TagName == runningTag && !updateArgs.force {
		fmt.Println("You are running the latest version:", system.Version)
		return
	}

	fmt.Printf("Updating from %s to %s\n", runningTag, release.TagName)
	skipChecksum := updates.DisableChecksum || updateArgs.disableChecksum
	asset, err := selfupdate.UpdateFromGitHub(ctx, owner, repo, release, updates.GitHubBinaryTemplate, skipChecksum)
	if err != nil {
		log.WithField("error", err).Fatal("update failed")
	}
	finishUpdate(cfg, asset)
}

// finishUpdate reports the result and runs the configured restart command, if
// any. Updates installed from a direct URL pass an empty asset name.
func finishUpdate(cfg *config.Configuration, assetName string) {
	colorstring.Println("\n[green]Update successful.[reset]")
	if assetName != "" {
		fmt.Println("Installed asset:", filepath.Base(assetName))
	}

	restart := strings.TrimSpace(cfg.System.Updates.RestartCommand)
	if restart == "" {
		fmt.Println("Restart the engine to finish applying the update.")
		return
	}

	fmt.Println("Executing restart command:", restart)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	output, err := selfupdate.RunRestartCommand(ctx, restart)
	if output != "" {
		fmt.Println(output)
	}
	if err != nil {
		log.WithField("error", err).Warn("restart command failed")
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
