// Package version reports the claudian build version.
//
// Commit can be set with -ldflags "-X .../internal/version.Commit=<sha>";
// otherwise the VCS revision recorded by the Go toolchain is used.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Commit is the git commit of this build, if set at link time.
var Commit string

const (
	appMajor uint = 0
	appMinor uint = 3
	appPatch uint = 0

	// appPreRelease may only contain characters from preReleaseAlphabet.
	appPreRelease = ""

	preReleaseAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."
)

// Version returns the semantic version.
func Version() string {
	v := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if pre := filterAlphabet(appPreRelease, preReleaseAlphabet); pre != "" {
		v += "-" + pre
	}
	return v
}

// Full returns the version with the commit and a dirty marker when known.
func Full() string {
	commit, dirty := buildCommit()
	if commit == "" {
		return Version()
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s)", Version(), commit)
}

func buildCommit() (string, bool) {
	if c := strings.TrimSpace(Commit); c != "" {
		return c, false
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	return rev, dirty
}

func filterAlphabet(s, alphabet string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(alphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
