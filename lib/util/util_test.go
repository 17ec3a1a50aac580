package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestUserHomeReturnsValidPath verifies UserHome returns an existing directory.
func TestUserHomeReturnsValidPath(t *testing.T) {
	home := UserHome()
	if home == "" {
		t.Fatal("UserHome returned empty string")
	}

	info, err := os.Stat(home)
	if err != nil {
		t.Fatalf("UserHome returned non-existent path: %s, error: %v", home, err)
	}
	if !info.IsDir() {
		t.Fatalf("UserHome returned non-directory: %s", home)
	}
}

// TestUserHomeHonoursHOME verifies the $HOME fallback path is usable.
func TestUserHomeHonoursHOME(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	if got := UserHome(); got != dir {
		t.Errorf("UserHome() = %q, want %q", got, dir)
	}
}

func TestCheckFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "network.key")
	if err := os.WriteFile(file, []byte("00"), 0o600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	testCases := []struct {
		name string
		path string
		want bool
	}{
		{"existing file", file, true},
		{"existing directory", dir, true},
		{"missing file", filepath.Join(dir, "absent"), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckFileExists(tc.path); got != tc.want {
				t.Errorf("CheckFileExists(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

// TestPathSafetyNoPanic verifies malformed paths are reported as missing.
func TestPathSafetyNoPanic(t *testing.T) {
	testCases := []string{
		"../../../definitely/not/here",
		"..\\..\\windows\\system32\\nothing",
		"",
		strings.Repeat("a", 10000),
	}

	for _, tc := range testCases {
		if CheckFileExists(tc) {
			t.Errorf("CheckFileExists(%.20q) reported a file", tc)
		}
	}
}
