// Package buildinfo resolves the running binary's version string for
// cobra's --version output, grounded on davidolrik-overseer's
// internal/core/version.go (the teacher carries no equivalent).
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Version is resolved once at init from the module's build info: the
// tagged release version when installed via `go install`/goreleaser,
// otherwise a "devel-<short-sha>[-dirty]" string from VCS metadata, or
// "devel" when neither is available (e.g. `go run`).
var Version = resolve()

func resolve() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "devel"
	}

	if v := info.Main.Version; v != "" && v != "(devel)" && !isPseudoVersion(v) {
		return strings.TrimPrefix(v, "v")
	}

	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return "devel"
	}

	short := revision
	if len(short) > 7 {
		short = short[:7]
	}
	v := fmt.Sprintf("devel-%s", short)
	if dirty {
		v += "-dirty"
	}
	return v
}

// isPseudoVersion reports whether v is a Go module pseudo-version
// (e.g. v0.0.0-20260217105831-82903d1d8810), which carries no
// meaningful release tag and should fall back to VCS info instead.
func isPseudoVersion(v string) bool {
	if i := strings.Index(v, "+"); i >= 0 {
		v = v[:i]
	}
	i := strings.LastIndex(v, "-")
	if i < 0 {
		return false
	}
	hash := v[i+1:]
	if len(hash) != 12 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
