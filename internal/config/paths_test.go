package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBasePath_Default(t *testing.T) {
	t.Setenv("COURSELOOP_PATH", "")

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	got := BasePath()
	want := filepath.Join(home, ".courseloop")
	if got != want {
		t.Errorf("BasePath() = %q, want %q", got, want)
	}
}

func TestBasePath_EnvOverride(t *testing.T) {
	t.Setenv("COURSELOOP_PATH", "/tmp/custom-courseloop")

	got := BasePath()
	want := "/tmp/custom-courseloop"
	if got != want {
		t.Errorf("BasePath() = %q, want %q", got, want)
	}
}

func TestConfigPath(t *testing.T) {
	t.Setenv("COURSELOOP_PATH", "/tmp/test-courseloop")

	got := ConfigPath()
	want := "/tmp/test-courseloop/config.jsonc"
	if got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestDotenvPath(t *testing.T) {
	t.Setenv("COURSELOOP_PATH", "/tmp/test-courseloop")

	got := DotenvPath()
	want := "/tmp/test-courseloop/.env"
	if got != want {
		t.Errorf("DotenvPath() = %q, want %q", got, want)
	}
}
