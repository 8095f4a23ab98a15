//go:build windows

package sandbox

import "syscall"

// sandboxProcAttr has nothing Windows-equivalent to Setpgid wired up yet;
// timeout kills rely on context cancellation terminating the top-level
// process only.
func sandboxProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

// applySandboxLimits is a no-op on Windows: job-object based memory/CPU
// throttling is not implemented, so the sandbox's bounds are advisory on
// this platform.
func applySandboxLimits(pid int, memoryMB int64, cpuQuota float64) error {
	return nil
}
