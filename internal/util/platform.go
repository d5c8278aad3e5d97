package util

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostInfo describes the machine rconsole runs on. It is served by the
// info endpoint and published with the MQTT heartbeat.
type HostInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCount     int    `json:"cpu_count"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// GetHostInfo gathers static host information. Fields gopsutil cannot
// read on this platform are left empty.
func GetHostInfo() HostInfo {
	info := HostInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCount:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hi, err := host.Info(); err == nil {
		info.Platform = fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion)
	}
	if ci, err := cpu.Info(); err == nil && len(ci) > 0 {
		info.CPUModel = ci[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total / (1024 * 1024)
	}
	return info
}

// Usage is a point-in-time resource snapshot.
type Usage struct {
	CPUPercent    float64       `json:"cpu_percent"`
	MemoryPercent float64       `json:"memory_percent"`
	ProcessRSS    uint64        `json:"process_rss_mb"`
	Goroutines    int           `json:"goroutines"`
	Uptime        time.Duration `json:"uptime_ns"`
}

var startedAt = time.Now()

// GetUsage samples system CPU and memory plus this process's footprint.
func GetUsage() Usage {
	u := Usage{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(startedAt),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		u.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		u.MemoryPercent = vm.UsedPercent
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			u.ProcessRSS = mi.RSS / (1024 * 1024)
		}
	}
	return u
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
