package compileinfo

import (
	"bytes"
	"strings"
	"testing"
)

func TestStringWithCommit(t *testing.T) {
	c := CompileInfo{Package: "mdaiuploadvolume", GoVersion: "go1.18", Commit: "abc123", CommitTime: "2022-01-01T00:00:00Z", Modified: true}

	s := c.String()
	if !strings.Contains(s, "commit abc123") || !strings.Contains(s, "modified after that commit") {
		t.Errorf("Unexpected string %q", s)
	}
}

func TestStringWithoutCommit(t *testing.T) {
	s := CompileInfo{Package: "mdaiuploadvolume", Version: "(devel)", GoVersion: "go1.18"}.String()
	if !strings.Contains(s, "without VCS information") {
		t.Errorf("Unexpected string %q", s)
	}
}

func TestFprint(t *testing.T) {
	var buf bytes.Buffer
	Fprint(&buf)

	if !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("Expected a single line, got %q", buf.String())
	}
}
