//go:build linux

package fs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/HQarroum/fhsbox/logger"
	"github.com/google/uuid"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

/**
 * Pivot into the assembled root and detach the old one.
 *
 * The host /tmp is bound here, after composition: the new root lives
 * inside it, and mounting it any earlier would make pivot_root fail.
 * The working directory is restored afterwards when it still resolves.
 * @param newRoot the assembled root directory
 * @return error if any
 */
func PivotRoot(newRoot string) error {
	// FHS expects a world-writable /tmp; the directory is made 0777
	// without the sticky bit.
	tmp := filepath.Join(newRoot, "tmp")
	if err := os.Mkdir(tmp, 0o777); err != nil {
		return fmt.Errorf("Couldn't create %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o777); err != nil {
		return fmt.Errorf("Couldn't chmod %s: %w", tmp, err)
	}
	if err := BindSet("/tmp", tmp); err != nil {
		return fmt.Errorf("Couldn't bind host /tmp: %w", err)
	}

	// Park the old root under a unique name inside the new one.
	putOld := ".old-root-" + uuid.New().String()
	if err := os.Mkdir(filepath.Join(newRoot, putOld), 0o700); err != nil {
		return fmt.Errorf("Couldn't create put_old directory: %w", err)
	}

	cwd, cwdErr := os.Getwd()

	if err := os.Chdir(newRoot); err != nil {
		return fmt.Errorf("Couldn't enter %s: %w", newRoot, err)
	}
	if err := unix.PivotRoot(".", putOld); err != nil {
		return fmt.Errorf("Couldn't pivot root to %s: %w", newRoot, err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("Couldn't enter the new root: %w", err)
	}

	// Best effort: the previous working directory may not exist in the
	// composed view.
	if cwdErr == nil {
		if err := os.Chdir(cwd); err != nil {
			logger.Log.Warn("working directory not preserved",
				slog.String("cwd", cwd), slog.Any("err", err))
		}
	}

	// Sever the old root from the mount tree.
	oldRoot := "/" + putOld
	if err := unix.Unmount(oldRoot, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("Couldn't detach the old root: %w", err)
	}
	if mounted, err := mountinfo.Mounted(oldRoot); err == nil && mounted {
		return fmt.Errorf("old root still mounted at %s", oldRoot)
	}
	return os.Remove(oldRoot)
}
