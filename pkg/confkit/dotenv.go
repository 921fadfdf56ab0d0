package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads a .env file into the process environment the first
// time it is called.
//
//   - NO_DOTENV=1 disables loading entirely.
//   - ENV_FILE points at an explicit file.
//   - Otherwise every .env between the working directory and the module root
//     is loaded, nearest first.
//
// Variables already present in the environment win unless DOTENV_OVERLOAD=1.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	load := godotenv.Load
	if os.Getenv("DOTENV_OVERLOAD") == "1" {
		load = godotenv.Overload
	}
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		_ = load(envFile)
		return
	}
	wd, err := os.Getwd()
	if err != nil {
		_ = load(".env")
		return
	}
	walkUp(wd, func(dir string) bool {
		candidate := filepath.Join(dir, ".env")
		if fileExists(candidate) {
			_ = load(candidate)
		}
		return isModuleRoot(dir)
	})
}
