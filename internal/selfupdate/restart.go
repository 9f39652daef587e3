package selfupdate

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	"emperror.dev/errors"
)

// RunRestartCommand executes the configured restart command through the
// platform shell and returns its combined output. An empty command is a no-op,
// desktop installations usually relaunch by hand.
func RunRestartCommand(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", nil
	}

	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}

	output, err := exec.CommandContext(ctx, shell, flag, command).CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return out, errors.Wrap(err, "selfupdate: restart command failed")
	}
	return out, nil
}
