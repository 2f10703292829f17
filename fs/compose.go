//go:build linux

package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

/**
 * Root composition options.
 */
type ComposeOpts struct {

	// Absolute path to the FHS tree produced by the resolver.
	FhsPath string

	// Optional size of the tmpfs backing the new root, in bytes.
	// Zero leaves the mount options empty (kernel default).
	TmpfsSize uint64
}

/**
 * Assemble a new root filesystem on a private tmpfs by layering bind
 * mounts of the FHS tree, the host /etc and the host root. Host /etc
 * entries shadow FHS-provided ones, and the linker configuration is
 * written by us before either /etc layer is mounted, so neither the
 * FHS tree nor the host can supply it.
 *
 * The host /tmp is deliberately absent here: the new root itself lives
 * under it, and binding it before the pivot would make the new root an
 * ancestor of one of its own mounts, which pivot_root rejects. The
 * pivoter mounts it instead.
 * @param opts the composition options
 * @return the new root path and error if any
 */
func ComposeRoot(opts *ComposeOpts) (string, error) {
	// Stop mount events from propagating back to the host, while still
	// receiving the host's own mount events.
	if err := unix.Mount("", "/", "", unix.MS_SLAVE|unix.MS_REC, ""); err != nil {
		return "", fmt.Errorf("Couldn't make / a recursive slave mount: %w", err)
	}

	newRoot := filepath.Join(os.TempDir(), "fhsbox-"+uuid.New().String())
	if err := os.Mkdir(newRoot, 0o700); err != nil {
		return "", fmt.Errorf("Couldn't create new_root: %w", err)
	}

	if err := unix.Mount("tmpfs", newRoot, "tmpfs", 0, tmpfsOptions(opts.TmpfsSize)); err != nil {
		return "", fmt.Errorf("Couldn't mount tmpfs on %s: %w", newRoot, err)
	}
	if mounted, err := mountinfo.Mounted(newRoot); err != nil {
		return "", fmt.Errorf("Couldn't verify tmpfs mount on %s: %w", newRoot, err)
	} else if !mounted {
		return "", fmt.Errorf("Couldn't verify tmpfs mount on %s: not a mount point", newRoot)
	}

	// FHS tree first, /etc excepted.
	if err := BindSet(opts.FhsPath, newRoot, "etc"); err != nil {
		return "", fmt.Errorf("Couldn't bind FHS tree: %w", err)
	}

	// /etc is composed entry by entry rather than bound wholesale, so
	// that the host keeps control of authentication material while the
	// FHS tree only fills the gaps.
	etc := filepath.Join(newRoot, "etc")
	if err := os.Mkdir(etc, 0o755); err != nil {
		return "", fmt.Errorf("Couldn't create %s: %w", etc, err)
	}
	if err := WriteLdSoConf(newRoot); err != nil {
		return "", err
	}
	if err := BindSet("/etc", etc, "ld.so.conf"); err != nil {
		return "", fmt.Errorf("Couldn't bind host /etc: %w", err)
	}
	fhsEtc := filepath.Join(opts.FhsPath, "etc")
	if _, err := os.Stat(fhsEtc); err == nil {
		if err := BindSet(fhsEtc, etc); err != nil {
			return "", fmt.Errorf("Couldn't bind FHS /etc: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", fhsEtc, err)
	}

	// Host root fills the remaining top-level gaps.
	if err := BindSet("/", newRoot, "etc", "tmp"); err != nil {
		return "", fmt.Errorf("Couldn't bind host root: %w", err)
	}

	return newRoot, nil
}

/**
 * @return the tmpfs mount options for the given size, empty when unset.
 */
func tmpfsOptions(size uint64) string {
	if size == 0 {
		return ""
	}
	return fmt.Sprintf("size=%d", size)
}
