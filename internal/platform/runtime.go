package platform

import (
	"os"
	"runtime"
)

// Runtime is the slice of the ambient process environment the probe reads.
// Every method is read-only.
type Runtime interface {
	Getenv(key string) string
	Exists(path string) bool
	ReadFile(path string) ([]byte, error)
	WritableDir(path string) bool
	GOOS() string
	GOARCH() string
	GoVersion() string
	UserConfigDir() (string, error)
	UserCacheDir() (string, error)
	UserHomeDir() (string, error)
}

type osRuntime struct{}

// OSRuntime reads the real process environment.
func OSRuntime() Runtime { return osRuntime{} }

func (osRuntime) Getenv(key string) string { return os.Getenv(key) }

func (osRuntime) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (osRuntime) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (osRuntime) WritableDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o200 != 0
}

func (osRuntime) GOOS() string      { return runtime.GOOS }
func (osRuntime) GOARCH() string    { return runtime.GOARCH }
func (osRuntime) GoVersion() string { return runtime.Version() }

func (osRuntime) UserConfigDir() (string, error) { return os.UserConfigDir() }
func (osRuntime) UserCacheDir() (string, error)  { return os.UserCacheDir() }
func (osRuntime) UserHomeDir() (string, error)   { return os.UserHomeDir() }
