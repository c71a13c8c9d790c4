// Package diskguard evaluates free space on the model volume so the gateway
// can refuse to queue downloads that would fill the disk.
package diskguard

import (
	"math"

	"github.com/shirou/gopsutil/v4/disk"
)

// Guard statuses.
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusCritical = "critical"
	StatusError    = "error"
)

// Report is the evaluation result. It doubles as the health-check payload.
type Report struct {
	Status      string  `json:"status"`
	Path        string  `json:"path"`
	UsedPercent int     `json:"used_percent,omitempty"`
	FreeGB      float64 `json:"free_gb,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Check evaluates the filesystem holding path against the usage threshold.
// ok is false for critical usage and for probe failures; both block enqueue.
// Usage within ten points below the threshold reports a warning but still
// passes.
func Check(path string, thresholdPct int) (bool, Report) {
	usage, err := disk.Usage(path)
	if err != nil {
		return false, Report{
			Status: StatusError,
			Path:   path,
			Error:  err.Error(),
		}
	}

	usedPercent := int(usage.UsedPercent)
	freeGB := math.Round(float64(usage.Free)/(1<<30)*10) / 10

	status := StatusOK
	ok := true
	switch {
	case usedPercent >= thresholdPct:
		status = StatusCritical
		ok = false
	case usedPercent >= thresholdPct-10:
		status = StatusWarning
	}

	return ok, Report{
		Status:      status,
		Path:        path,
		UsedPercent: usedPercent,
		FreeGB:      freeGB,
	}
}
