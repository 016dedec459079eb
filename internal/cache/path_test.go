package cache

import (
	"path/filepath"
	"testing"
)

func TestDBPath(t *testing.T) {
	p := DBPath("/data")
	if p != filepath.Join("/data", "shows.db") {
		t.Errorf("DBPath = %q", p)
	}
	if p != DBPath("/data") {
		t.Error("DBPath should be stable for the same directory")
	}
}
