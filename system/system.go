package system

import (
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

type Information struct {
	Version string `json:"version"`
	System  System `json:"system"`
}

type System struct {
	Architecture  string `json:"architecture"`
	CPUThreads    int    `json:"cpu_threads"`
	MemoryBytes   uint64 `json:"memory_bytes"`
	KernelVersion string `json:"kernel_version"`
	OS            string `json:"os"`
	OSType        string `json:"os_type"`
}

type DiskInfo struct {
	Device     string   `json:"device"`
	Mountpoint string   `json:"mountpoint"`
	TotalSpace uint64   `json:"total_space"`
	UsedSpace  uint64   `json:"used_space"`
	Tags       []string `json:"tags"`
}

type Utilization struct {
	MemoryTotal uint64     `json:"memory_total"`
	MemoryUsed  uint64     `json:"memory_used"`
	SwapTotal   uint64     `json:"swap_total"`
	SwapUsed    uint64     `json:"swap_used"`
	LoadAvg1    float64    `json:"load_average1"`
	LoadAvg5    float64    `json:"load_average5"`
	LoadAvg15   float64    `json:"load_average15"`
	CpuPercent  float64    `json:"cpu_percent"`
	DiskTotal   uint64     `json:"disk_total"`
	DiskUsed    uint64     `json:"disk_used"`
	DiskDetails []DiskInfo `json:"disk_details"`
}

func GetSystemInformation() (*Information, error) {
	kernel, err := getKernelVersion()
	if err != nil {
		return nil, err
	}
	release, err := getOperatingSystemName()
	if err != nil {
		return nil, err
	}
	m, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &Information{
		Version: Version,
		System: System{
			Architecture:  runtime.GOARCH,
			CPUThreads:    runtime.NumCPU(),
			MemoryBytes:   m.Total,
			KernelVersion: kernel,
			OS:            release,
			OSType:        runtime.GOOS,
		},
	}, nil
}

// GetSystemUtilization collects host memory, load and disk statistics. The
// application directories and every configured library root are resolved to
// their backing disk and attached as tags so a report shows which mounts the
// mod libraries actually live on.
func GetSystemUtilization(root, logs, cache, trash string, libraries map[string]string) (*Utilization, error) {
	c, err := cpu.Percent(0, false)
	if err != nil {
		return nil, err
	}
	m, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	s, err := mem.SwapMemory()
	if err != nil {
		return nil, err
	}
	l, err := load.Avg()
	if err != nil {
		return nil, err
	}

	paths := map[string]string{
		"Root":  root,
		"Logs":  logs,
		"Cache": cache,
		"Trash": trash,
	}
	for name, path := range libraries {
		paths["Library: "+name] = path
	}

	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, err
	}

	disks := make(map[string]*DiskInfo)
	counted := make(map[string]struct{})
	var total, used uint64
	for _, p := range partitions {
		if ignoredFstype(p.Fstype) {
			continue
		}
		// A device mounted in several places only counts once.
		if _, ok := counted[p.Device]; ok {
			continue
		}
		usage, err := disk.Usage(p.Mountpoint)
		if err != nil {
			continue
		}
		counted[p.Device] = struct{}{}
		total += usage.Total
		used += usage.Used
		disks[p.Mountpoint] = &DiskInfo{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			TotalSpace: usage.Total,
			UsedSpace:  usage.Used,
			Tags:       []string{},
		}
	}

	for tag, path := range paths {
		if _, mountpoint, err := getDiskForPath(path, partitions); err == nil {
			if d, ok := disks[mountpoint]; ok {
				d.Tags = append(d.Tags, tag)
			}
		}
	}

	// Sorted output keeps consecutive diagnostic reports diffable.
	details := make([]DiskInfo, 0, len(disks))
	for _, d := range disks {
		sort.Strings(d.Tags)
		details = append(details, *d)
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Mountpoint < details[j].Mountpoint })

	return &Utilization{
		MemoryTotal: m.Total,
		MemoryUsed:  m.Used,
		SwapTotal:   s.Total,
		SwapUsed:    s.Used,
		CpuPercent:  c[0],
		LoadAvg1:    l.Load1,
		LoadAvg5:    l.Load5,
		LoadAvg15:   l.Load15,
		DiskTotal:   total,
		DiskUsed:    used,
		DiskDetails: details,
	}, nil
}

// ignoredFstype reports whether a partition is a pseudo filesystem that would
// distort capacity totals.
func ignoredFstype(fstype string) bool {
	if fstype == "" {
		return true
	}
	for _, prefix := range []string{"tmpfs", "devtmpfs", "overlay", "squashfs"} {
		if strings.HasPrefix(fstype, prefix) {
			return true
		}
	}
	return false
}

// FreeSpace returns the number of bytes available on the filesystem that
// contains the given path. Used as a pre-flight check before extracting an
// archive or writing a backup.
func FreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
