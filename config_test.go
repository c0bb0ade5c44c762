package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "xbld.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadConfigurationResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
modfiles = ["mods/a.o", "mods/b.o"]

[[patch]]
patchfile = "patches/p.o"
start_symbol = "pstart"
end_symbol = "pend"
virtual_address = 0x10200
`)

	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration: %v", err)
	}

	want := &Configuration{
		ModFiles: []string{
			filepath.Join(dir, "mods/a.o"),
			filepath.Join(dir, "mods/b.o"),
		},
		Patches: []PatchConfig{
			{
				PatchfilePath:  filepath.Join(dir, "patches/p.o"),
				StartSymbol:    "pstart",
				EndSymbol:      "pend",
				VirtualAddress: 0x10200,
			},
		},
	}

	// patchObject is an unexported *ObjectFile filled in only by the driver;
	// ignore it here since this test is about path resolution, not linking.
	if diff := cmp.Diff(want, cfg, cmpopts.IgnoreUnexported(PatchConfig{})); diff != "" {
		t.Errorf("LoadConfiguration mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigurationRejectsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "modfiles = []\n")
	if _, err := LoadConfiguration(path); err == nil {
		t.Fatal("expected an error for a configuration naming nothing")
	}
}

func TestLoadConfigurationRejectsIncompletePatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
[[patch]]
patchfile = "p.o"
start_symbol = "pstart"
`)
	if _, err := LoadConfiguration(path); err == nil {
		t.Fatal("expected an error for a patch entry missing end_symbol")
	}
}
