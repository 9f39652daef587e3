//go:build windows

package system

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// getDiskForPath resolves the partition whose volume holds path. Windows
// mountpoints are drive letters, reported as "C:" or "C:\" depending on the
// source. Both return strings are empty when no partition matches.
func getDiskForPath(path string, partitions []disk.PartitionStat) (string, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	volume := strings.ToUpper(filepath.VolumeName(abs))
	if volume == "" {
		return "", "", nil
	}

	for _, p := range partitions {
		if strings.ToUpper(strings.TrimRight(p.Mountpoint, `\`)) == volume {
			return p.Device, p.Mountpoint, nil
		}
	}
	return "", "", nil
}
