// Package health reports resource usage of the scanning daemon and its host.
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Snapshot is a point-in-time resource report. Fields that could not be
// read are left zero and the failure is listed in Errors.
type Snapshot struct {
	Status     string    `json:"status"`
	CheckedAt  time.Time `json:"checkedAt"`
	UptimeSec  float64   `json:"uptimeSec"`
	PID        int32     `json:"pid"`
	Goroutines int       `json:"goroutines"`

	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`

	HostMemTotal       uint64  `json:"hostMemTotal"`
	HostMemAvailable   uint64  `json:"hostMemAvailable"`
	HostMemUsedPercent float64 `json:"hostMemUsedPercent"`

	Errors []string `json:"errors,omitempty"`
}

// Checker samples the current process.
type Checker struct {
	started time.Time
	proc    *process.Process
}

func NewChecker() (*Checker, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Checker{started: time.Now(), proc: p}, nil
}

func (c *Checker) Snapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		Status:     StatusOK,
		CheckedAt:  time.Now().UTC(),
		UptimeSec:  time.Since(c.started).Seconds(),
		PID:        c.proc.Pid,
		Goroutines: runtime.NumGoroutine(),
	}
	fail := func(what string, err error) {
		s.Status = StatusDegraded
		s.Errors = append(s.Errors, what+": "+err.Error())
	}

	if mi, err := c.proc.MemoryInfoWithContext(ctx); err != nil {
		fail("process memory", err)
	} else {
		s.RSSBytes = mi.RSS
	}
	if pct, err := c.proc.CPUPercentWithContext(ctx); err != nil {
		fail("process cpu", err)
	} else {
		s.CPUPercent = pct
	}
	if n, err := c.proc.NumThreadsWithContext(ctx); err != nil {
		fail("process threads", err)
	} else {
		s.Threads = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		fail("host memory", err)
	} else {
		s.HostMemTotal = vm.Total
		s.HostMemAvailable = vm.Available
		s.HostMemUsedPercent = vm.UsedPercent
	}
	return s
}
