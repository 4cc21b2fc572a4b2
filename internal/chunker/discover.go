package chunker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	runDirPrefix      = "run_"
	recognitionSubdir = "recognition_json"
)

// FindLatestRecognitionDir returns the recognition_json directory of the most
// recently modified run_* directory under outputsDir that has one.
func FindLatestRecognitionDir(outputsDir string) (string, error) {
	entries, err := os.ReadDir(outputsDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognitionDirNotFound, err)
	}
	type run struct {
		path string
		mod  time.Time
	}
	var runs []run
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), runDirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, run{path: filepath.Join(outputsDir, e.Name()), mod: info.ModTime()})
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].mod.After(runs[j].mod) })
	for _, r := range runs {
		candidate := filepath.Join(r.path, recognitionSubdir)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no %s*/%s under %s", ErrRecognitionDirNotFound, runDirPrefix, recognitionSubdir, outputsDir)
}
