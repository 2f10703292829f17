package sandbox

import (
	"os"
	"strings"
)

/**
 * Search paths expected by FHS-era software, prepended to the
 * inherited environment after the pivot.
 */
var (
	pathDirs = []string{
		"/run/wrappers/bin",
		"/usr/bin",
		"/usr/sbin",
		"/usr/local/bin",
		"/usr/local/sbin",
		"/bin",
		"/sbin",
	}
	pkgConfigDirs = []string{
		"/usr/lib/pkgconfig",
	}
	ldLibraryDirs = []string{
		"/run/opengl-driver/lib",
		"/run/opengl-driver-32/lib",
	}
	xdgDataDirs = []string{
		"/run/opengl-driver/share",
		"/run/opengl-driver-32/share",
		"/usr/local/share",
		"/usr/share",
	}
	aclocalDirs = []string{
		"/usr/share/aclocal",
	}
)

/**
 * Prepend a colon-joined list to an environment variable. The previous
 * value is kept as a suffix; nothing is deduplicated, so repeated
 * application repeats the prefix. An unset or empty variable just
 * becomes the joined list.
 * @param key the variable name
 * @param additions the entries to prepend, in order
 */
func prependEnv(key string, additions []string) {
	joined := strings.Join(additions, ":")

	if old := os.Getenv(key); old != "" {
		joined = joined + ":" + old
	}
	os.Setenv(key, joined)
}

/**
 * Establish the search paths and locale settings FHS software expects,
 * mutating the process environment inherited by the launched program.
 * All environment writes go through here; nothing else in the sandbox
 * touches the environment table.
 */
func PrepareEnvironment() {
	prependEnv("PATH", pathDirs)
	prependEnv("PKG_CONFIG_PATH", pkgConfigDirs)
	prependEnv("LD_LIBRARY_PATH", ldLibraryDirs)
	prependEnv("XDG_DATA_DIRS", xdgDataDirs)
	prependEnv("ACLOCAL_PATH", aclocalDirs)
	os.Setenv("LOCALE_ARCHIVE", "/usr/lib/locale/locale-archive")
}
