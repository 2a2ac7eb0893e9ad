package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// interpolationPattern matches ${VAR} and ${VAR:-default} in minder.yaml,
// the usual way a relay token is kept out of the file on disk.
var interpolationPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads minder.yaml from path, interpolates environment variables,
// and decodes it strictly: keys the schema does not know are errors, so
// a misspelled section fails at startup instead of silently applying
// defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := interpolate(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// interpolate substitutes ${VAR} and ${VAR:-default} occurrences with
// environment values. A variable that is unset and carries no default
// is an error; every such variable is named in a single error so the
// operator can fix them all at once.
func interpolate(raw []byte) ([]byte, error) {
	var missing []string

	result := interpolationPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := interpolationPattern.FindSubmatch(match)
		name := string(groups[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if groups[2] != nil {
			return groups[2]
		}

		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("unresolved variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}
