package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocateFile resolves name against each data directory in order, then as
// given. The first existing regular file wins.
func LocateFile(name string, dirs []string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file name")
	}

	candidates := make([]string, 0, len(dirs)+1)
	if !filepath.IsAbs(name) {
		for _, d := range dirs {
			if d != "" {
				candidates = append(candidates, filepath.Join(d, name))
			}
		}
	}
	candidates = append(candidates, name)

	for _, c := range candidates {
		st, err := os.Stat(c)
		if err == nil && !st.IsDir() {
			return c, nil
		}
	}

	return "", fmt.Errorf("could not find %q in data dirs %v: %w", name, dirs, os.ErrNotExist)
}
