// ABOUTME: Tests for the .env loader: parsing, quoting, and no-clobber behavior.

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("PORTER_DOTENV_A", "")
	t.Setenv("PORTER_DOTENV_B", "")
	t.Setenv("PORTER_DOTENV_C", "")
	os.Unsetenv("PORTER_DOTENV_A")
	os.Unsetenv("PORTER_DOTENV_B")
	os.Unsetenv("PORTER_DOTENV_C")

	path := writeEnvFile(t, `
# comment line
PORTER_DOTENV_A=plain
export PORTER_DOTENV_B="quoted value"
PORTER_DOTENV_C='single'
not-a-pair
`)
	loadDotEnv(path)

	if got := os.Getenv("PORTER_DOTENV_A"); got != "plain" {
		t.Errorf("A = %q", got)
	}
	if got := os.Getenv("PORTER_DOTENV_B"); got != "quoted value" {
		t.Errorf("B = %q", got)
	}
	if got := os.Getenv("PORTER_DOTENV_C"); got != "single" {
		t.Errorf("C = %q", got)
	}
}

func TestLoadDotEnvDoesNotClobber(t *testing.T) {
	t.Setenv("PORTER_DOTENV_KEEP", "original")
	path := writeEnvFile(t, "PORTER_DOTENV_KEEP=overwritten\n")

	loadDotEnv(path)

	if got := os.Getenv("PORTER_DOTENV_KEEP"); got != "original" {
		t.Errorf("value = %q, want original", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
}
