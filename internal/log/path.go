package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appDirName = "flowguard"

// GetLogDir returns the platform-specific log directory.
// - Linux: /var/log/flowguard/ when writable
// - Others: ~/.flowguard/
// - Fallback: temp directory
var GetLogDir = sync.OnceValue(func() string {
	dir := determineLogDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		dir = filepath.Join(os.TempDir(), appDirName)
		_ = os.MkdirAll(dir, 0755)
	}
	return dir
})

func determineLogDir() string {
	if runtime.GOOS == "linux" {
		varLogDir := filepath.Join("/var/log", appDirName)
		if writable(varLogDir) {
			return varLogDir
		}
	}
	return getUserLogDir()
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(testFile)
	return true
}

func getUserLogDir() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		userLogDir := filepath.Join(homeDir, "."+appDirName)
		if err := os.MkdirAll(userLogDir, 0755); err == nil {
			return userLogDir
		}
	}
	return filepath.Join(os.TempDir(), appDirName)
}

// GetLogFilePath returns the full path to the main log file.
func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), appDirName+".log")
}

// GetStatsFilePath returns the full path to a stats file.
func GetStatsFilePath(name string) string {
	return filepath.Join(GetLogDir(), name)
}
