package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// statusResponse is the GET /status payload: process liveness plus the
// coarse resource figures an operator checks before suspecting a stuck
// engine process.
type statusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	MonitorsCount int     `json:"monitors_loaded"`

	CPUPercent      float64 `json:"cpu_percent,omitempty"`
	MemoryRSSMB     float64 `json:"memory_rss_mb,omitempty"`
	SystemMemFree   float64 `json:"system_memory_free_percent,omitempty"`
	SystemCPUPercent float64 `json:"system_cpu_percent,omitempty"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		MonitorsCount: h.reg.Len(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			resp.CPUPercent = pct
		}
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			resp.MemoryRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		resp.SystemMemFree = 100 - vm.UsedPercent
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		resp.SystemCPUPercent = pcts[0]
	}

	writeJSON(w, http.StatusOK, resp)
}
