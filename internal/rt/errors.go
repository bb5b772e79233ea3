package rt

import (
	"fmt"

	"github.com/nous-kernel/nous/internal/errkind"
)

// NotSchedulableError is returned by Admit when accepting a server would
// push total utilization past MaxUtilization on the target CPU.
type NotSchedulableError struct {
	ServerID       string
	CPU            int
	RequestedUtil  float64
	CurrentUtil    float64
	MaxUtilization float64
}

func (e *NotSchedulableError) Error() string {
	return fmt.Sprintf(
		"rt: admit %s on cpu%d rejected: current=%.4f + requested=%.4f would exceed max=%.4f",
		e.ServerID, e.CPU, e.CurrentUtil, e.RequestedUtil, e.MaxUtilization,
	)
}
func (e *NotSchedulableError) Kind() string { return "NotSchedulable" }

// UnknownServerError is returned by operations referencing a server id that
// was never admitted (or has since been removed).
type UnknownServerError struct{ ServerID string }

func (e *UnknownServerError) Error() string { return "rt: unknown server " + e.ServerID }
func (e *UnknownServerError) Kind() string  { return "UnknownServer" }

// InvalidCPUError is returned when a CPU id falls outside [0, NumCPUs).
type InvalidCPUError struct {
	CPU     int
	NumCPUs int
}

func (e *InvalidCPUError) Error() string {
	return fmt.Sprintf("rt: cpu %d outside schedulable set [0,%d)", e.CPU, e.NumCPUs)
}
func (e *InvalidCPUError) Kind() string { return "InvalidCPU" }

// MigrationNotAllowedError is returned by Migrate when the server is not
// currently throttled — per spec, CPU migration is allowed only at
// throttle events, never while a server is still running its own deadline.
type MigrationNotAllowedError struct{ ServerID string }

func (e *MigrationNotAllowedError) Error() string {
	return fmt.Sprintf("rt: migrate %s rejected: server is not throttled", e.ServerID)
}
func (e *MigrationNotAllowedError) Kind() string { return "MigrationNotAllowed" }

var (
	_ errkind.Kinded = (*NotSchedulableError)(nil)
	_ errkind.Kinded = (*UnknownServerError)(nil)
	_ errkind.Kinded = (*InvalidCPUError)(nil)
	_ errkind.Kinded = (*MigrationNotAllowedError)(nil)
)
