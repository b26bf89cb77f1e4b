package clients

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFrame(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame_00001.jpg")
	if err := os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
