// Package version reports the orchestra build version.
package version

import "runtime/debug"

// Version is set with -ldflags "-X github.com/MEKXH/orchestra/internal/version.Version=...".
// Without it, the module version recorded by go install is used.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		Version = v
	}
}
