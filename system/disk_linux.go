//go:build linux

package system

import (
	"syscall"

	"github.com/shirou/gopsutil/v3/disk"
)

// getDiskForPath resolves the partition whose filesystem holds path by
// comparing filesystem ids. Both return strings are empty when no partition
// matches, which is not an error.
func getDiskForPath(path string, partitions []disk.PartitionStat) (string, string, error) {
	var target syscall.Statfs_t
	if err := syscall.Statfs(path, &target); err != nil {
		return "", "", err
	}

	for _, p := range partitions {
		var st syscall.Statfs_t
		if err := syscall.Statfs(p.Mountpoint, &st); err != nil {
			continue
		}
		if st.Fsid == target.Fsid {
			return p.Device, p.Mountpoint, nil
		}
	}
	return "", "", nil
}
