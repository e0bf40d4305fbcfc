// ABOUTME: Loads .env files into the process environment before config expansion
// ABOUTME: Existing environment variables always win over file values

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// EnvFiles are the dotenv files LoadEnvFiles reads, highest priority first.
var EnvFiles = []string{".env.local", ".env"}

// LoadEnvFiles loads variables from the given files, or EnvFiles when none
// are given. Missing files are skipped. godotenv never overrides a variable
// that is already set, so earlier files and the real environment take
// precedence.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = EnvFiles
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
