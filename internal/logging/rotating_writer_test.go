package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestRotatingFileWriter_Write(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "appsnowball.log")

	writer, err := NewRotatingFileWriter(logFile, 100, 3)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	data := []byte("This is a test log message\n")
	n, err := writer.Write(data)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("Write returned %d, want %d", n, len(data))
	}
	if got := readFile(t, logFile); got != string(data) {
		t.Errorf("File content = %q, want %q", got, string(data))
	}
}

func TestRotatingFileWriter_AppendsToExistingFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "appsnowball.log")
	if err := os.WriteFile(logFile, []byte(strings.Repeat("A", 40)), 0600); err != nil {
		t.Fatal(err)
	}

	writer, err := NewRotatingFileWriter(logFile, 50, 2)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	// The existing 40 bytes count toward the limit.
	if _, err := writer.Write([]byte(strings.Repeat("B", 20))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readFile(t, logFile+".1"); got != strings.Repeat("A", 40) {
		t.Errorf("backup = %q, want the previous content", got)
	}
}

func TestRotatingFileWriter_Rotation(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "appsnowball.log")

	writer, err := NewRotatingFileWriter(logFile, 50, 2)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	msgs := []string{
		strings.Repeat("A", 30) + "\n",
		strings.Repeat("B", 30) + "\n",
		strings.Repeat("C", 30) + "\n",
		strings.Repeat("D", 30) + "\n",
	}
	for i, msg := range msgs {
		if _, err := writer.Write([]byte(msg)); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	want := map[string]string{
		logFile:        msgs[3],
		logFile + ".1": msgs[2],
		logFile + ".2": msgs[1],
	}
	for path, content := range want {
		if got := readFile(t, path); got != content {
			t.Errorf("%s = %q, want %q", filepath.Base(path), got, content)
		}
	}
	if _, err := os.Stat(logFile + ".3"); !os.IsNotExist(err) {
		t.Errorf("backup beyond maxBackups exists (err=%v)", err)
	}
}

func TestRotatingFileWriter_NoBackups(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "appsnowball.log")

	writer, err := NewRotatingFileWriter(logFile, 20, 0)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	for _, msg := range []string{"first message 123\n", "second message 45\n"} {
		if _, err := writer.Write([]byte(msg)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if got := readFile(t, logFile); got != "second message 45\n" {
		t.Errorf("content = %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("files = %d, want only the live log", len(entries))
	}
}

func TestRotatingFileWriter_UnlimitedSize(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "appsnowball.log")

	writer, err := NewRotatingFileWriter(logFile, 0, 3)
	if err != nil {
		t.Fatalf("NewRotatingFileWriter failed: %v", err)
	}
	defer writer.Close()

	for i := 0; i < 10; i++ {
		if _, err := writer.Write([]byte(strings.Repeat("x", 100))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if _, err := os.Stat(logFile + ".1"); !os.IsNotExist(err) {
		t.Error("zero max size should never rotate")
	}

	if err := writer.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if got := readFile(t, logFile+".1"); len(got) != 1000 {
		t.Errorf("forced backup holds %d bytes, want 1000", len(got))
	}
}
