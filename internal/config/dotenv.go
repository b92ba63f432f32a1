package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv reads KEY=VALUE pairs from STOCKCLASS_ENV_FILE (default .env)
// into the environment. Variables already set win. A missing file is fine.
func LoadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("STOCKCLASS_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
