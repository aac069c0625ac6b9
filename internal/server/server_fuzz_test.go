package server

import (
	"strings"
	"testing"
)

func FuzzIsSafeName(f *testing.F) {
	for _, s := range []string{"bot-a", "", "..", "../etc/passwd", "name/with/slash", `name\with\backslash`, "v1.2_bot", "unicode한글", "name\x00null"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, name string) {
		ok := isSafeName(name)
		if ok && (name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, "/\\ \x00")) {
			t.Fatalf("unsafe name accepted: %q", name)
		}
	})
}

func FuzzSanitizeBase(f *testing.F) {
	for _, s := range []string{"", "/", "api", "/api/", " /x/y// "} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, in string) {
		out := sanitizeBase(in)
		if out == "" {
			return
		}
		if !strings.HasPrefix(out, "/") || strings.HasSuffix(out, "/") {
			t.Fatalf("sanitizeBase(%q) = %q", in, out)
		}
	})
}
