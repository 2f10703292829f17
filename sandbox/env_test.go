package sandbox

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrependEnvUnsetVariable(t *testing.T) {
	t.Setenv("FHSBOX_TEST_VAR", "")
	os.Unsetenv("FHSBOX_TEST_VAR")

	prependEnv("FHSBOX_TEST_VAR", []string{"/a", "/b"})
	assert.Equal(t, "/a:/b", os.Getenv("FHSBOX_TEST_VAR"))
}

func TestPrependEnvEmptyVariable(t *testing.T) {
	t.Setenv("FHSBOX_TEST_VAR", "")

	prependEnv("FHSBOX_TEST_VAR", []string{"/a"})
	assert.Equal(t, "/a", os.Getenv("FHSBOX_TEST_VAR"))
}

func TestPrependEnvKeepsOldValueAsSuffix(t *testing.T) {
	t.Setenv("FHSBOX_TEST_VAR", "/opt/bin")

	prependEnv("FHSBOX_TEST_VAR", []string{"/a", "/b"})
	assert.Equal(t, "/a:/b:/opt/bin", os.Getenv("FHSBOX_TEST_VAR"))
}

func TestPrependEnvDoesNotDeduplicate(t *testing.T) {
	// Prepending twice duplicates the prefix on purpose; the variable
	// records each application.
	t.Setenv("FHSBOX_TEST_VAR", "/opt/bin")

	prependEnv("FHSBOX_TEST_VAR", []string{"/a"})
	prependEnv("FHSBOX_TEST_VAR", []string{"/a"})
	assert.Equal(t, "/a:/a:/opt/bin", os.Getenv("FHSBOX_TEST_VAR"))
}

func TestPrepareEnvironmentPath(t *testing.T) {
	t.Setenv("PATH", "/opt/bin")
	t.Setenv("PKG_CONFIG_PATH", "")
	t.Setenv("LD_LIBRARY_PATH", "")
	t.Setenv("XDG_DATA_DIRS", "")
	t.Setenv("ACLOCAL_PATH", "")
	t.Setenv("LOCALE_ARCHIVE", "/previous/archive")

	PrepareEnvironment()

	assert.Equal(t,
		"/run/wrappers/bin:/usr/bin:/usr/sbin:/usr/local/bin:/usr/local/sbin:/bin:/sbin:/opt/bin",
		os.Getenv("PATH"))
	assert.Equal(t, "/usr/lib/pkgconfig", os.Getenv("PKG_CONFIG_PATH"))
	assert.Equal(t,
		"/run/opengl-driver/lib:/run/opengl-driver-32/lib",
		os.Getenv("LD_LIBRARY_PATH"))
	assert.Equal(t,
		"/run/opengl-driver/share:/run/opengl-driver-32/share:/usr/local/share:/usr/share",
		os.Getenv("XDG_DATA_DIRS"))
	assert.Equal(t, "/usr/share/aclocal", os.Getenv("ACLOCAL_PATH"))

	// LOCALE_ARCHIVE is overwritten, not prepended.
	assert.Equal(t, "/usr/lib/locale/locale-archive", os.Getenv("LOCALE_ARCHIVE"))
}
