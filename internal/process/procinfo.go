package process

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Info is a point-in-time view of a running process for status output.
type Info struct {
	PID       int       `json:"pid"`
	Name      string    `json:"name,omitempty"`
	Cmdline   string    `json:"cmdline,omitempty"`
	RSSBytes  uint64    `json:"rss_bytes,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Inspect collects best-effort details about pid. Fields the platform
// cannot provide are left zero.
func Inspect(pid int) (Info, error) {
	info := Info{PID: pid}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return info, err
	}
	if name, err := p.Name(); err == nil {
		info.Name = name
	}
	if cl, err := p.Cmdline(); err == nil {
		info.Cmdline = cl
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		info.RSSBytes = mem.RSS
	}
	if s := startUnix(pid); s > 0 {
		info.StartedAt = time.Unix(s, 0)
	}
	return info, nil
}
