package helpers

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

const DataDirEnv = "JUANCARLOS_DIR"

var dataDirPath = ""

// SetDataDirPath overrides the data directory for the rest of the process.
// An empty path restores the default lookup.
func SetDataDirPath(newPath string) {
	dataDirPath = newPath
}

func GetDataDirPath() string {
	if len(dataDirPath) != 0 {
		return dataDirPath
	}

	if envPath := os.Getenv(DataDirEnv); len(envPath) != 0 {
		return envPath
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		if homeEnv := os.Getenv("HOME"); len(homeEnv) != 0 {
			homeDir = homeEnv
		} else {
			homeDir = os.TempDir()
		}
	}

	return filepath.Join(homeDir, ".juancarlos")
}

func GetOrInitializeDataDir() (string, error) {
	dirPath := GetDataDirPath()
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return "", errors.Wrapf(err, "creating data directory %s", dirPath)
		}
	}

	return dirPath, nil
}
