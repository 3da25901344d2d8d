package release

import (
	"testing"

	"github.com/carlmjohnson/versioninfo"
)

func TestVersion(t *testing.T) {
	oldVersion, oldRevision, oldDirty := versioninfo.Version, versioninfo.Revision, versioninfo.DirtyBuild
	t.Cleanup(func() {
		versioninfo.Version, versioninfo.Revision, versioninfo.DirtyBuild = oldVersion, oldRevision, oldDirty
	})

	cases := []struct {
		version  string
		revision string
		dirty    bool
		expected string
	}{
		{"v0.3.1", "a1b2c3d4e5f6", false, "v0.3.1 (a1b2c3d)"},
		{"v0.3.1", "a1b2c3d4e5f6", true, "v0.3.1 (a1b2c3d-dirty)"},
		{"(devel)", "a1b2c3d4e5f6", false, "rev-a1b2c3d"},
		{"unknown", "unknown", true, "devel"},
	}

	for _, tc := range cases {
		versioninfo.Version, versioninfo.Revision, versioninfo.DirtyBuild = tc.version, tc.revision, tc.dirty

		if got := Version(); got != tc.expected {
			t.Errorf("Version() with %s/%s: expected %q, got %q", tc.version, tc.revision, tc.expected, got)
		}
	}
}
