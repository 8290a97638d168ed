// Package version identifies the running vocero build in logs and
// user-agent strings.
package version

import (
	"runtime/debug"
	"sync"
)

// release is stamped with -ldflags on tagged builds. When empty, the
// commit from embedded VCS metadata stands in; "dev" is the last
// resort for go-test and non-git builds.
var release string

var commit = sync.OnceValue(func() string {
	if release != "" {
		return release
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 8 {
			return s.Value[:8]
		}
	}
	return "dev"
})

// Full returns the build identity in "vocero/<id>" form.
func Full() string {
	return "vocero/" + commit()
}
