//go:build !windows

package sandbox

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// sandboxProcAttr puts the interpreter in its own process group. The
// timeout kill via the context's cancellation signals only the interpreter
// process itself; children it spawns are not signaled.
func sandboxProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// applySandboxLimits bounds the already-started process's address space
// and CPU time via prlimit(2). Go's exec package has no pre-exec hook for
// rlimits, so the limits are applied to the child immediately after
// Start returns, in the narrow window before it begins real work.
func applySandboxLimits(pid int, memoryMB int64, cpuQuota float64) error {
	memBytes := uint64(memoryMB) * 1024 * 1024
	if err := unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: memBytes, Max: memBytes}, nil); err != nil {
		return fmt.Errorf("set memory limit: %w", err)
	}

	// RLIMIT_CPU is whole seconds of CPU time, not a fractional-core
	// quota; a generous ceiling here is a backstop against runaway loops,
	// not the primary throttle (the ~0.5-core budget is advisory for
	// deployment-level cgroup limits, which this process-level sandbox
	// does not manage).
	cpuSeconds := uint64(30)
	if cpuQuota > 0 {
		cpuSeconds = uint64(30 / cpuQuota)
	}
	if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds}, nil); err != nil {
		return fmt.Errorf("set cpu limit: %w", err)
	}
	return nil
}
