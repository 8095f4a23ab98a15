// Package sandbox implements the code-execution tool (spec §6 "Sandbox
// contract"): it accepts a code snippet plus an interpreter language, runs
// it as a short-lived subprocess with memory and CPU bounds, and returns
// its captured stdout/stderr. On Unix the subprocess runs in its own
// process group (Setpgid); the timeout kill signals only the interpreter
// process, not the rest of the group. This is process isolation, not a
// network or filesystem sandbox.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/agentcore/runtime/internal/tools"
)

// Language selects the interpreter a snippet runs under.
type Language string

const (
	LanguagePython Language = "python"
	LanguageNode   Language = "node"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMemoryMB = 256
	defaultCPUQuota = 0.5
)

// Config bounds one sandbox's resource usage.
type Config struct {
	// MemoryMB caps the interpreter process's address space (RLIMIT_AS on
	// Unix). Defaults to 256 when zero.
	MemoryMB int64
	// CPUQuota is the nominal fraction of one core (0.5 == half a core).
	// On Unix it sets an RLIMIT_CPU ceiling of 30/CPUQuota CPU-seconds; it
	// does not throttle the process to that fraction of a core. Defaults
	// to 0.5 when zero.
	CPUQuota float64
	// Timeout bounds wall-clock execution time. Defaults to 30s when zero.
	Timeout time.Duration
}

// Sandbox runs untrusted code snippets under the bounds in Config.
type Sandbox struct {
	memoryMB int64
	cpuQuota float64
	timeout  time.Duration
}

// New builds a Sandbox from cfg, filling in defaults for zero fields.
func New(cfg Config) *Sandbox {
	s := &Sandbox{
		memoryMB: cfg.MemoryMB,
		cpuQuota: cfg.CPUQuota,
		timeout:  cfg.Timeout,
	}
	if s.memoryMB <= 0 {
		s.memoryMB = defaultMemoryMB
	}
	if s.cpuQuota <= 0 {
		s.cpuQuota = defaultCPUQuota
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	return s
}

// Register adds the "execute_code" tool to registry.
func (s *Sandbox) Register(registry *tools.Registry) error {
	return registry.Register(tools.Spec{
		Name:        "execute_code",
		Description: "Run a short code snippet in a memory- and CPU-limited subprocess and return its stdout/stderr; network access is not blocked",
		ArgSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code":         map[string]any{"type": "string", "description": "source code to execute"},
				"language":     map[string]any{"type": "string", "enum": []string{"python", "node"}},
				"requirements": map[string]any{"type": "array", "description": "package names; accepted but not installed"},
			},
			"required": []string{"code", "language"},
		},
		UserAction: false,
		Invoke:     s.execute,
	})
}

type execResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

func (s *Sandbox) execute(ctx context.Context, args map[string]any) (any, error) {
	code, _ := args["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("sandbox: code is required")
	}
	lang := Language(stringArg(args, "language"))

	interpreter, scriptArgs, cleanup, err := prepareInterpreter(lang, code)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, interpreter, scriptArgs...)
	cmd.Env = minimalEnv()
	cmd.SysProcAttr = sandboxProcAttr()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start interpreter: %w", err)
	}
	if err := applySandboxLimits(cmd.Process.Pid, s.memoryMB, s.cpuQuota); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("sandbox: apply resource limits: %w", err)
	}

	runErr := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("sandbox: execution timed out after %s", s.timeout)
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("sandbox: start interpreter: %w", runErr)
		}
		// non-zero exit still returns captured output, not an error: the
		// caller inspects stderr the same way a shell user would.
	}

	return execResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func prepareInterpreter(lang Language, code string) (string, []string, func(), error) {
	var ext, interpreter string
	switch lang {
	case LanguagePython:
		ext, interpreter = "py", "python3"
	case LanguageNode:
		ext, interpreter = "js", "node"
	default:
		return "", nil, nil, fmt.Errorf("sandbox: unsupported language %q", lang)
	}

	f, err := os.CreateTemp("", "sandbox-*."+ext)
	if err != nil {
		return "", nil, nil, fmt.Errorf("sandbox: create snippet file: %w", err)
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, nil, fmt.Errorf("sandbox: write snippet: %w", err)
	}
	f.Close()

	cleanup := func() { os.Remove(f.Name()) }
	return interpreter, []string{f.Name()}, cleanup, nil
}

// minimalEnv strips the host environment down to what an interpreter needs
// to start, so secrets in the calling process's environment never leak
// into the snippet.
func minimalEnv() []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	return []string{"PATH=" + path, "HOME=/tmp", "LANG=C.UTF-8"}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
