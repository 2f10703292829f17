//go:build linux

package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

/**
 * A single planned bind mount: one direct child of a source directory
 * to be mirrored under a target directory.
 */
type bindEntry struct {

	// Entry basename.
	Name string

	// Absolute source path.
	Source string

	// Whether the resolved source is a directory.
	Dir bool
}

/**
 * Build an exclusion set from a list of basenames.
 * @param names the basenames to exclude
 * @return the exclusion set
 */
func exclusionSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))

	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

/**
 * Plan the bind mounts mirroring `parent` under `target`. An entry is
 * planned unless its basename is excluded or already present under the
 * target; pre-existing entries are never overwritten, which is how
 * earlier layers take precedence over later ones.
 * @param parent the source directory
 * @param target the directory receiving the stubs
 * @param exclusions basenames to skip
 * @return the planned entries and error if any
 */
func planEntries(parent, target string, exclusions map[string]struct{}) ([]bindEntry, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", parent, err)
	}

	var plan []bindEntry
	for _, entry := range entries {
		name := entry.Name()

		// Excluded names are never mirrored.
		if _, ok := exclusions[name]; ok {
			continue
		}

		// Pre-existing targets win over this layer.
		if _, err := os.Lstat(filepath.Join(target, name)); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", filepath.Join(target, name), err)
		}

		// Resolve symlinks: the kernel follows the mount source, so the
		// stub kind must match the resolved entry.
		source := filepath.Join(parent, name)
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", source, err)
		}

		plan = append(plan, bindEntry{
			Name:   name,
			Source: source,
			Dir:    info.IsDir(),
		})
	}
	return plan, nil
}

/**
 * Create the stub receiving a bind mount: an empty directory for
 * directory sources, an empty regular file otherwise.
 * @param entry the planned entry
 * @param target the directory receiving the stub
 * @return the stub path and error if any
 */
func createStub(entry bindEntry, target string) (string, error) {
	stub := filepath.Join(target, entry.Name)

	if entry.Dir {
		if err := os.Mkdir(stub, 0o755); err != nil {
			return "", fmt.Errorf("creating stub directory %s: %w", stub, err)
		}
		return stub, nil
	}

	f, err := os.OpenFile(stub, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating stub file %s: %w", stub, err)
	}
	_ = f.Close()
	return stub, nil
}

/**
 * Mirror each direct child of `parent` under `target` with a recursive
 * bind mount onto a freshly created stub. Entries whose basename is in
 * `exclusions`, or which already exist under the target, are skipped.
 * Any entry-level failure aborts the whole invocation.
 * @param parent the source directory
 * @param target the directory receiving the mounts
 * @param exclusions basenames to skip
 * @return error if any
 */
func BindSet(parent, target string, exclusions ...string) error {
	plan, err := planEntries(parent, target, exclusionSet(exclusions))
	if err != nil {
		return err
	}

	for _, entry := range plan {
		stub, err := createStub(entry, target)
		if err != nil {
			return err
		}
		if err := unix.Mount(entry.Source, stub, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("binding %s onto %s: %w", entry.Source, stub, err)
		}
	}
	return nil
}
