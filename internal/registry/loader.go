package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sillymedia/internal/common/fsutil"
	"sillymedia/internal/config"
)

// LoadDir scans a directory for *.gguf files and returns one llm ModelSpec per
// file. The ID is the filename without extension; Path is absolute.
func LoadDir(dir string) ([]config.ModelSpec, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var specs []config.ModelSpec
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		specs = append(specs, config.ModelSpec{
			ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			Kind: "llm",
			// File size is the usual lower bound for resident weights.
			EstimatedVRAMGB: float64(info.Size()) / (1 << 30),
			Backend:         "llama-server",
			Path:            filepath.Join(abs, name),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs, nil
}
