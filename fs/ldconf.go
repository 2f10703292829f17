package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

/**
 * Dynamic-linker search paths written into the sandbox /etc/ld.so.conf.
 * Order matters: native library directories first, then 32-bit variants,
 * then the OpenGL driver paths.
 */
var ldSoConfEntries = []string{
	"/lib",
	"/lib/x86_64-linux-gnu",
	"/lib64",
	"/usr/lib",
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib64",
	"/lib/i386-linux-gnu",
	"/lib32",
	"/usr/lib/i386-linux-gnu",
	"/usr/lib32",
	"/run/opengl-driver/lib",
	"/run/opengl-driver-32/lib",
}

/**
 * Write the dynamic-linker configuration into the new root's /etc.
 * The file is owned by the sandbox, never by the FHS tree or the host;
 * the composer excludes it by name from the host /etc layer, and the
 * FHS /etc layer skips it because it already exists.
 * @param newRoot the root directory being assembled
 * @return error if any
 */
func WriteLdSoConf(newRoot string) error {
	path := filepath.Join(newRoot, "etc/ld.so.conf")

	if err := os.WriteFile(path, []byte(strings.Join(ldSoConfEntries, "\n")), 0o644); err != nil {
		return fmt.Errorf("Couldn't write to /etc/ld.so.conf: %w", err)
	}
	return nil
}
