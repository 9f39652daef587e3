package diagnostics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"emperror.dev/errors"
	"github.com/dustin/go-humanize"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/repository"
	"github.com/reynalivan/emm-core/system"
)

// GenerateDiagnosticsReport collects a report about the engine, its
// configuration and the host it runs on, for attaching to bug reports.
// We collect:
// - engine version and host details
// - relevant parts of the engine configuration
// - library and reference database statistics
// - host utilization
// - logs
func GenerateDiagnosticsReport(includeEndpoints bool, includeLogs bool, logLines int) (string, error) {
	cfg := config.Get()

	redact := func(s string) string {
		if includeEndpoints {
			return s
		}
		return "{redacted}"
	}

	output := &strings.Builder{}
	fmt.Fprintln(output, "EMM Core - Diagnostics Report")

	printHeader(output, "Versions")
	fmt.Fprintln(output, "             Engine:", system.Version)
	fmt.Fprintln(output, "                 Go:", runtime.Version())

	printHeader(output, "Host System")
	if info, err := system.GetSystemInformation(); err == nil {
		fmt.Fprintln(output, "                 OS:", info.System.OS)
		fmt.Fprintln(output, "       Architecture:", info.System.Architecture)
		fmt.Fprintln(output, "     Kernel Version:", info.System.KernelVersion)
		fmt.Fprintln(output, "        CPU Threads:", info.System.CPUThreads)
		fmt.Fprintln(output, "             Memory:", humanize.IBytes(info.System.MemoryBytes))
	} else {
		fmt.Fprintln(output, "  Failed to query host information:", err)
	}

	libraries := make(map[string]string, len(cfg.Games))
	for _, g := range cfg.Games {
		libraries[g.Name] = g.ModsPath
	}
	if u, err := system.GetSystemUtilization(
		cfg.System.RootDirectory,
		cfg.System.LogDirectory,
		cfg.System.CacheDirectory,
		cfg.System.TrashDirectory,
		libraries,
	); err == nil {
		fmt.Fprintln(output, "        Memory Used:", humanize.IBytes(u.MemoryUsed), "/", humanize.IBytes(u.MemoryTotal))
		fmt.Fprintln(output, "          Disk Used:", humanize.IBytes(u.DiskUsed), "/", humanize.IBytes(u.DiskTotal))
		fmt.Fprintf(output, "       Load Average: %.2f %.2f %.2f\n", u.LoadAvg1, u.LoadAvg5, u.LoadAvg15)
	}

	printHeader(output, "Engine Configuration")
	fmt.Fprintln(output, "     Root Directory:", cfg.System.RootDirectory)
	fmt.Fprintln(output, "      Log Directory:", cfg.System.LogDirectory)
	fmt.Fprintln(output, "    Cache Directory:", cfg.System.CacheDirectory)
	fmt.Fprintln(output, "    Trash Directory:", cfg.System.TrashDirectory)
	fmt.Fprintln(output, "              Debug:", cfg.Debug)
	fmt.Fprintln(output, "   Workflow Workers:", cfg.Workflow.Workers)
	fmt.Fprintln(output, "    Match Threshold:", cfg.Matching.ConfidenceThreshold)
	if cfg.RemoteDatabase.URL != "" {
		fmt.Fprintln(output, "    Database Mirror:", redact(cfg.RemoteDatabase.URL))
		fmt.Fprintln(output, "   Refresh Interval:", cfg.RemoteDatabase.RefreshInterval, "hours")
	} else {
		fmt.Fprintln(output, "    Database Mirror: not configured")
	}

	printHeader(output, "Libraries")
	for _, g := range cfg.Games {
		fmt.Fprintf(output, "  %s (%s)\n", g.Name, g.Type)
		fmt.Fprintln(output, "               Path:", redact(g.ModsPath))
		if size, err := system.DirectorySize(g.ModsPath); err == nil {
			fmt.Fprintln(output, "       Size on Disk:", humanize.IBytes(uint64(size)))
		}

		if total, disabled, err := countModFolders(g.ModsPath); err != nil {
			fmt.Fprintln(output, "     Object Folders: unreadable:", err)
		} else {
			fmt.Fprintln(output, "     Object Folders:", total)
			fmt.Fprintln(output, "           Disabled:", disabled)
		}

		refPath := filepath.Join(
			cfg.System.GetReferenceDatabaseDirectory(),
			strings.ToLower(string(g.Type)),
			naming.DatabaseFile,
		)
		if r, err := repository.Load(refPath); err == nil {
			fmt.Fprintln(output, "  Reference Records:", r.Len())
		} else if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(output, "  Reference Records: no database installed")
		} else {
			fmt.Fprintln(output, "  Reference Records: database unusable")
		}
	}
	if len(cfg.Games) == 0 {
		fmt.Fprintln(output, "  No libraries configured.")
	}

	if includeLogs {
		printHeader(output, "Latest Logs")
		p := filepath.Join(cfg.System.LogDirectory, "emm.log")
		if tail, err := tailLogFile(p, logLines); err != nil {
			fmt.Fprintln(output, "  Failed to read log file:", err)
		} else {
			output.WriteString(tail)
		}
	}

	return output.String(), nil
}

func printHeader(w *strings.Builder, title string) {
	fmt.Fprintln(w, "\n|\n|", title)
	fmt.Fprintln(w, "| ------------------------------")
}

// countModFolders reports the number of object folders at the top of a
// library and how many of them are currently disabled.
func countModFolders(root string) (int, int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, 0, err
	}
	var total, disabled int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		total++
		if naming.IsDisabled(e.Name()) {
			disabled++
		}
	}
	return total, disabled, nil
}

func tailLogFile(path string, lines int) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	split := bytes.Split(bytes.TrimRight(b, "\n"), []byte("\n"))
	if lines > 0 && len(split) > lines {
		split = split[len(split)-lines:]
	}
	return string(bytes.Join(split, []byte("\n"))) + "\n", nil
}
