package main

import (
	"os"
	"testing"

	"github.com/masahif/appsnowball/internal/cmd"
)

func TestVersionVariables(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty string")
	}
	if BuildTime == "" {
		t.Error("BuildTime should not be empty string")
	}
}

func TestMainWithVersion(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	os.Args = []string{"appsnowball", "--version"}
	cmd.SetVersionInfo("1.0.0-test", "2023-12-01T10:00:00Z")

	if err := cmd.Execute(); err != nil {
		t.Errorf("Execute with version returned: %v", err)
	}
}
