package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoArgs indicates a submission with an empty argument list.
var ErrNoArgs = errors.New("job: no executable reference given")

// scriptSuffixes are file types resolved against the working directory
// before spawning. A missing script fails the submission synchronously
// instead of at spawn time.
var scriptSuffixes = map[string]bool{".py": true, ".sh": true}

// NormalizeArgs resolves known script arguments to absolute paths under
// workDir and prepends pythonBin when the first argument is a Python
// script. It returns an error if a referenced script does not exist.
func NormalizeArgs(args []string, workDir, pythonBin string) ([]string, error) {
	if len(args) == 0 {
		return nil, ErrNoArgs
	}

	resolved := make([]string, 0, len(args)+1)
	for _, arg := range args {
		if !scriptSuffixes[filepath.Ext(arg)] {
			resolved = append(resolved, arg)
			continue
		}
		path := arg
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("job: script %s: %w", arg, err)
		}
		resolved = append(resolved, path)
	}

	if filepath.Ext(resolved[0]) == ".py" {
		if pythonBin == "" {
			pythonBin = "python3"
		}
		resolved = append([]string{pythonBin}, resolved...)
	}

	return resolved, nil
}
