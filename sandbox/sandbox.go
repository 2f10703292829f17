//go:build linux

package sandbox

import (
	"fmt"
	"log/slog"

	"github.com/HQarroum/fhsbox/fs"
	"github.com/HQarroum/fhsbox/logger"
	uuid "github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Sandbox parameters.
type SandboxOptions struct {
	UUID      uuid.UUID
	Name      string
	FhsPath   string
	Run       string
	TmpfsSize uint64
	LogLevel  slog.Level
	LogFormat logger.LogFormat
}

// Describes a running sandbox process.
type SandboxProcess struct {

	// Unique sandbox identifier.
	uuid string

	// Process identifier.
	pid int
}

/**
 * Create and start the sandboxed shell. The child is cloned into fresh
 * user and mount namespaces and parked on a pipe; the parent populates
 * its id maps from the subordinate-id delegation, then releases it.
 * The child assembles the FHS root, pivots into it, prepares the
 * environment and replaces itself with the shell. The steps are
 * strictly ordered; nothing is retried or rolled back — an early
 * failure simply lets the kernel tear the namespaces down on exit.
 * @param opts the sandbox options
 * @return the sandbox process descriptor, or an error if any
 */
func NewSandbox(opts *SandboxOptions) (*SandboxProcess, error) {
	process := &SandboxProcess{
		uuid: opts.UUID.String(),
		pid:  -1,
	}

	// Create a synchronization pipe between parent and child.
	rfd, wfd, err := makeSyncPipe()
	if err != nil {
		return nil, err
	}

	pid, err := cloneNamespacedChild()
	if err != nil {
		closePipe(rfd, wfd)
		return nil, err
	}

	if pid == 0 {
		// Wait for the parent to write the id maps before touching
		// anything that needs capabilities in the new namespace.
		if err := waitForParent(rfd); err != nil {
			unix.Exit(1)
		}

		if err := runChild(opts); err != nil {
			logger.Log.Error("sandbox setup failed", slog.Any("err", err))
			unix.Exit(1)
		}

		// Launch only returns on failure.
		err := Launch(opts)
		logger.Log.Error("failed to launch", slog.Any("err", err))
		unix.Exit(127)
	}

	// Populate the child's uid and gid maps while it is parked.
	if err := setupIdMappings(pid); err != nil {
		closePipe(rfd, wfd)
		_ = reapChild(pid)
		return nil, fmt.Errorf("Couldn't enter namespace: %w", err)
	}

	process.pid = pid

	// Release the child.
	if err := signalChild(wfd); err != nil {
		_ = reapChild(pid)
		return nil, err
	}

	logger.Log.Info("sandbox started",
		slog.String("uuid", process.uuid), slog.Int("pid", process.pid))

	return process, nil
}

/**
 * Compose the new root, pivot into it and prepare the environment.
 * Runs in the namespaced child, which stays single-threaded until the
 * final exec.
 * @param opts the sandbox options
 * @return error if any
 */
func runChild(opts *SandboxOptions) error {
	newRoot, err := fs.ComposeRoot(&fs.ComposeOpts{
		FhsPath:   opts.FhsPath,
		TmpfsSize: opts.TmpfsSize,
	})
	if err != nil {
		return err
	}

	if err := fs.PivotRoot(newRoot); err != nil {
		return err
	}

	PrepareEnvironment()
	return nil
}

/**
 * Best-effort kill and reap of a child that will never be released.
 * @param pid the child pid
 * @return error if any
 */
func reapChild(pid int) error {
	_ = unix.Kill(pid, unix.SIGKILL)

	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if wpid == pid {
			return nil
		}
	}
}

/**
 * Waits for the sandboxed process to exit, and returns its exit status.
 * @return the exit status code, or an error if any
 */
func (p *SandboxProcess) Wait() (int, error) {
	if p == nil || p.pid <= 0 {
		return 0, fmt.Errorf("invalid process")
	}

	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(p.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if wpid == p.pid {
			break
		}
	}

	if ws.Exited() {
		return ws.ExitStatus(), nil
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return 0, nil
}
