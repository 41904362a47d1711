package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestRevision(t *testing.T) {
	cases := []struct {
		settings []debug.BuildSetting
		expected string
	}{
		{nil, ""},
		{[]debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}}, "0123456"},
		{[]debug.BuildSetting{{Key: "vcs.modified", Value: "true"}, {Key: "vcs.revision", Value: "0123456789abcdef"}}, "0123456-dirty"},
		{[]debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}}, "abc"},
		{[]debug.BuildSetting{{Key: "vcs.modified", Value: "true"}}, ""},
	}
	for _, c := range cases {
		if got := revision(&debug.BuildInfo{Settings: c.settings}, true); got != c.expected {
			t.Fatalf("revision(%v) = %q, expected %q", c.settings, got, c.expected)
		}
	}
	if got := revision(nil, false); got != "" {
		t.Fatalf("revision without build info = %q", got)
	}
}

func TestModuleVersion(t *testing.T) {
	info := &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}}
	if got := moduleVersion(info, true); got != "1.2.3" {
		t.Fatalf("moduleVersion = %q, expected 1.2.3", got)
	}
	info.Main.Version = "(devel)"
	if got := moduleVersion(info, true); got != "" {
		t.Fatalf("moduleVersion of a devel build = %q", got)
	}
	if got := pick("", "1.2.3", "0123456"); got != "1.2.3" {
		t.Fatalf("pick = %q", got)
	}
}

func TestBanner(t *testing.T) {
	if b := Banner("stemsync-play"); !strings.HasPrefix(b, "stemsync-play ") {
		t.Fatalf("Banner = %q", b)
	}
}
