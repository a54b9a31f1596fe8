// Package compileinfo reports the VCS state a binary was built from.
package compileinfo

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

type CompileInfo struct {
	Package    string
	Version    string
	GoVersion  string
	Commit     string
	CommitTime string
	Modified   bool
}

func (c CompileInfo) String() string {
	if c.Commit == "" {
		return fmt.Sprintf("This %s binary (version %s) was built with %s without VCS information.", c.Package, c.Version, c.GoVersion)
	}

	mod := ""
	if c.Modified {
		mod = " Files in the repo were modified after that commit."
	}

	return fmt.Sprintf("This %s binary was built with %s at commit %v at time %v.%s", c.Package, c.GoVersion, c.Commit, c.CommitTime, mod)
}

// Get reads the build information embedded by the go tool. Fields are empty
// when the binary was built without module support.
func Get() CompileInfo {
	out := CompileInfo{}

	z, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}

	out.GoVersion = z.GoVersion
	out.Package = z.Path
	out.Version = z.Main.Version
	for _, s := range z.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}

// Fprint writes the build information as one line to w.
func Fprint(w io.Writer) {
	fmt.Fprintf(w, "%s\n", Get())
}

func PrintToStdErr() {
	Fprint(os.Stderr)
}
