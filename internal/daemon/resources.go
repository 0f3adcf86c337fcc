package daemon

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is the process resource snapshot included in the daemon
// status
type ResourceUsage struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSS      uint64  `json:"memory_rss_bytes"`
	MemoryVMS      uint64  `json:"memory_vms_bytes"`
	GoroutineCount int     `json:"goroutines"`
	ThreadCount    int32   `json:"threads,omitempty"`
	OpenFDs        int32   `json:"open_fds,omitempty"`
}

// resourceMonitor samples the daemon process through gopsutil. Fields the
// platform cannot report are left zero.
type resourceMonitor struct {
	mu           sync.Mutex
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

func newResourceMonitor() *resourceMonitor {
	rm := &resourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return rm
	}
	rm.process = proc
	if t, err := proc.Times(); err == nil {
		rm.startCPUTime = t.Total()
	}
	return rm
}

func (rm *resourceMonitor) usage() ResourceUsage {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	u := ResourceUsage{GoroutineCount: runtime.NumGoroutine()}
	if rm.process == nil {
		return u
	}

	if t, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			u.CPUPercent = (t.Total() - rm.startCPUTime) / elapsed * 100
		}
	}
	if mi, err := rm.process.MemoryInfo(); err == nil {
		u.MemoryRSS = mi.RSS
		u.MemoryVMS = mi.VMS
	}
	u.ThreadCount, _ = rm.process.NumThreads()
	u.OpenFDs, _ = rm.process.NumFDs()
	return u
}
