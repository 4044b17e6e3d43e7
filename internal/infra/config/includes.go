package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// adapterFragment is the part of an included file that is read.
type adapterFragment struct {
	Adapters []AdapterConfig `yaml:"adapters"`
}

// loadIncludes collects the adapters declared by every file the patterns match, in
// pattern order and then lexical file order. Patterns are relative to dir and must
// stay inside it. Keys other than adapters are ignored, so included files cannot
// include further files.
func loadIncludes(dir string, patterns []string) ([]AdapterConfig, error) {
	var adapters []AdapterConfig
	for _, pattern := range patterns {
		if !filepath.IsLocal(pattern) {
			return nil, fmt.Errorf("config includes: %q escapes the config directory", pattern)
		}
		full := filepath.Join(dir, pattern)
		paths, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
		}
		if len(paths) == 0 && !strings.ContainsAny(pattern, "*?[") {
			paths = []string{full}
		}
		for _, p := range paths {
			frag, err := readFragment(p)
			if err != nil {
				return nil, err
			}
			adapters = mergeAdapters(adapters, frag.Adapters)
		}
	}
	return adapters, nil
}

func readFragment(path string) (adapterFragment, error) {
	var frag adapterFragment
	if err := validatePermissions(path); err != nil {
		return frag, fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return frag, fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &frag); err != nil {
		return frag, fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	return frag, nil
}
