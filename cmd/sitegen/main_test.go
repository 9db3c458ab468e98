package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBundlePath_OutsideOutDir(t *testing.T) {
	out := filepath.Join("build", "dist")
	got := bundlePath(out)
	if got != filepath.Join("build", "dist.tar.gz") {
		t.Fatalf("bundlePath = %q", got)
	}
	if strings.HasPrefix(got, out+string(filepath.Separator)) {
		t.Fatalf("bundle %q is inside %q", got, out)
	}
}
