// config.go - the pre-parsed configuration record the driver consumes, and
// the TOML loader that produces one from disk. The core linking engine
// never touches a config file directly; LoadConfiguration is the seam.
package main

import (
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Configuration is the driver's input record: an ordered list of patches
// and an ordered list of mod object files.
type Configuration struct {
	Patches  []PatchConfig
	ModFiles []string
}

// configDocument is the on-disk TOML shape.
type configDocument struct {
	ModFiles []string      `toml:"modfiles"`
	Patch    []patchRecord `toml:"patch"`
}

type patchRecord struct {
	PatchFile      string `toml:"patchfile"`
	StartSymbol    string `toml:"start_symbol"`
	EndSymbol      string `toml:"end_symbol"`
	VirtualAddress uint32 `toml:"virtual_address"`
}

// LoadConfiguration parses the TOML document at path. Every modfile and
// patchfile path in the document is resolved relative to path's own
// parent directory, not the process's working directory.
func LoadConfiguration(path string) (*Configuration, error) {
	var doc configDocument
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, parseError(path, "invalid configuration: "+err.Error())
	}

	dir := filepath.Dir(path)
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	cfg := &Configuration{}
	for _, m := range doc.ModFiles {
		if m == "" {
			return nil, configShapeError("modfiles entry must not be empty")
		}
		cfg.ModFiles = append(cfg.ModFiles, resolve(m))
	}
	for _, p := range doc.Patch {
		if p.PatchFile == "" || p.StartSymbol == "" || p.EndSymbol == "" {
			return nil, configShapeError("patch entries require patchfile, start_symbol and end_symbol")
		}
		cfg.Patches = append(cfg.Patches, PatchConfig{
			PatchfilePath:  resolve(p.PatchFile),
			StartSymbol:    p.StartSymbol,
			EndSymbol:      p.EndSymbol,
			VirtualAddress: VirtualAddr(p.VirtualAddress),
		})
	}
	if len(cfg.ModFiles) == 0 && len(cfg.Patches) == 0 {
		return nil, configShapeError("configuration names no modfiles and no patches")
	}
	return cfg, nil
}
