// Package release reports the version the binary was built from.
package release

import (
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

// Version is the full version shown by --version, e.g. "v0.3.1 (a1b2c3d)".
func Version() string {
	if versioninfo.Version == "unknown" || versioninfo.Version == "(devel)" || versioninfo.Revision == "unknown" {
		return versioninfo.Short()
	}
	return fmt.Sprintf("%s (%s)", versioninfo.Version, revision())
}

// ServerVersion is sent to editors in the initialize response.
func ServerVersion() string {
	return versioninfo.Short()
}

func revision() string {
	rev := versioninfo.Revision
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if versioninfo.DirtyBuild {
		rev += "-dirty"
	}
	return rev
}
