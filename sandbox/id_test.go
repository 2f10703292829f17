package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSubidFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subuid")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadSubidFileMissing(t *testing.T) {
	ranges, err := readSubidFile(filepath.Join(t.TempDir(), "nope"), "alice")
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestReadSubidFileSkipsMalformedShapes(t *testing.T) {
	path := writeSubidFixture(t, `
# a comment
not-a-record
alice:100000
alice:100000:65536:extra
alice:100000:65536
bob:200000:65536
alice:300000:1000
`)

	ranges, err := readSubidFile(path, "alice")
	require.NoError(t, err)
	assert.Equal(t, []IdRange{
		{Lower: 100000, Count: 65536},
		{Lower: 300000, Count: 1000},
	}, ranges)
}

func TestReadSubidFileSortsByLowerId(t *testing.T) {
	path := writeSubidFixture(t, "alice:300000:10\nalice:100000:10\n")

	ranges, err := readSubidFile(path, "alice")
	require.NoError(t, err)
	assert.Equal(t, []IdRange{
		{Lower: 100000, Count: 10},
		{Lower: 300000, Count: 10},
	}, ranges)
}

func TestReadSubidFileBadNumericsAreFatal(t *testing.T) {
	for _, content := range []string{
		"alice:banana:65536\n",
		"alice:100000:banana\n",
		"alice:-5:65536\n",
	} {
		path := writeSubidFixture(t, content)
		_, err := readSubidFile(path, "alice")
		require.Error(t, err, "content %q", content)
	}
}

func TestReadSubidFileRejectsOverflowingRange(t *testing.T) {
	path := writeSubidFixture(t, "alice:4294967295:2\n")

	_, err := readSubidFile(path, "alice")
	require.Error(t, err)
}

func TestBuildMappingPlanIdentityOnly(t *testing.T) {
	// No delegation at all: a valid one-id namespace.
	plan := BuildMappingPlan(1000, nil)

	assert.Equal(t, MappingPlan{{Inner: 1000, Outer: 1000, Count: 1}}, plan)
	assert.True(t, plan.IdentityOnly())
}

func TestBuildMappingPlanStraddlingRange(t *testing.T) {
	plan := BuildMappingPlan(1000, []IdRange{{Lower: 100000, Count: 65536}})

	assert.Equal(t, MappingPlan{
		{Inner: 0, Outer: 100000, Count: 1000},
		{Inner: 1000, Outer: 1000, Count: 1},
		{Inner: 1001, Outer: 101000, Count: 64536},
	}, plan)
}

func TestBuildMappingPlanStraddleAtRangeStart(t *testing.T) {
	// The invoking id is zero: no fill below the identity triple.
	plan := BuildMappingPlan(0, []IdRange{{Lower: 100000, Count: 10}})

	assert.Equal(t, MappingPlan{
		{Inner: 0, Outer: 0, Count: 1},
		{Inner: 1, Outer: 100000, Count: 10},
	}, plan)
}

func TestBuildMappingPlanMultipleRanges(t *testing.T) {
	plan := BuildMappingPlan(1000, []IdRange{
		{Lower: 100000, Count: 600},
		{Lower: 200000, Count: 600},
		{Lower: 300000, Count: 600},
	})

	assert.Equal(t, MappingPlan{
		{Inner: 0, Outer: 100000, Count: 600},
		{Inner: 600, Outer: 200000, Count: 400},
		{Inner: 1000, Outer: 1000, Count: 1},
		{Inner: 1001, Outer: 200400, Count: 200},
		{Inner: 1201, Outer: 300000, Count: 600},
	}, plan)
}

func TestBuildMappingPlanLaws(t *testing.T) {
	cases := []struct {
		name   string
		outer  uint32
		ranges []IdRange
	}{
		{"no delegation", 1000, nil},
		{"single straddling", 1000, []IdRange{{Lower: 100000, Count: 65536}}},
		{"multiple ranges", 1000, []IdRange{
			{Lower: 100000, Count: 600},
			{Lower: 200000, Count: 600},
		}},
		{"identity at zero", 0, []IdRange{{Lower: 100000, Count: 65536}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := BuildMappingPlan(tc.outer, tc.ranges)

			// The identity triple is always present.
			found := false
			for _, m := range plan {
				if m.Inner == tc.outer && m.Outer == tc.outer && m.Count == 1 {
					found = true
				}
			}
			assert.True(t, found, "identity triple missing")

			// Inner ids are strictly increasing and contiguous from 0
			// whenever the delegation covers the identity id.
			next := uint32(0)
			for i, m := range plan {
				if i > 0 {
					assert.Greater(t, m.Inner, plan[i-1].Inner)
				}
				if len(tc.ranges) > 0 {
					assert.Equal(t, next, m.Inner)
				}
				next = m.Inner + m.Count
			}

			// Outer ids are used at most once.
			seen := map[uint32]struct{}{}
			for _, m := range plan {
				for o := m.Outer; o < m.Outer+m.Count; o++ {
					_, dup := seen[o]
					assert.False(t, dup, "outer id %d mapped twice", o)
					seen[o] = struct{}{}
				}
			}
		})
	}
}

func TestHelperArgs(t *testing.T) {
	plan := MappingPlan{
		{Inner: 0, Outer: 100000, Count: 1000},
		{Inner: 1000, Outer: 1000, Count: 1},
	}

	assert.Equal(t, []string{
		"4242",
		"0", "100000", "1000",
		"1000", "1000", "1",
	}, plan.HelperArgs(4242))
}

func TestMapFileContent(t *testing.T) {
	plan := MappingPlan{{Inner: 1000, Outer: 1000, Count: 1}}

	assert.Equal(t, "1000 1000 1\n", plan.MapFileContent())
}
