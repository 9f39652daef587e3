//go:build linux

package system

import (
	"strings"

	"github.com/acobaugh/osrelease"
	"golang.org/x/sys/unix"
)

func getKernelVersion() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return strings.TrimRight(string(uts.Release[:]), "\x00"), nil
}

// getOperatingSystemName reads the distribution name from os-release, falling
// back to a plain "Linux" on systems without one.
func getOperatingSystemName() (string, error) {
	release, err := osrelease.Read()
	if err != nil {
		return "Linux", nil
	}
	for _, key := range []string{"PRETTY_NAME", "NAME"} {
		if release[key] != "" {
			return release[key], nil
		}
	}
	return "Linux", nil
}
