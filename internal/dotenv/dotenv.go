// Package dotenv loads a .env file into the process environment before
// configuration is parsed.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
)

// LoadFile loads KEY=VALUE pairs from path. Variables already present in the
// environment win, and a missing file is a no-op. It returns the keys it set.
func LoadFile(path string) ([]string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat env file %q: %w", path, err)
	}

	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %q: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	set := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, values[key]); err != nil {
			return set, fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
		set = append(set, key)
	}
	return set, nil
}
