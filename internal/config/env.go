package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFiles are read, in order, by LoadEnvFiles.
var EnvFiles = []string{".env", ".env.local"}

// LoadEnvFiles loads KEY=VALUE pairs from the env files in dir into the
// process environment. Variables already set are never overridden, so the
// first file wins over later ones. It returns the files that were loaded;
// missing files are skipped.
func LoadEnvFiles(dir string) ([]string, error) {
	var loaded []string
	for _, name := range EnvFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, err
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}
