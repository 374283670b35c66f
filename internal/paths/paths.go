package paths

import (
	"os"
	"os/user"
	"path/filepath"
)

const appName = "xrayclient"

// HomeDir returns the real user's home directory, even when running under sudo.
// Toggling the system proxy on some desktops needs elevation, and the store,
// config and database must stay in the invoking user's home regardless.
func HomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

func ensure(parts ...string) (string, error) {
	home, err := HomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(append([]string{home}, parts...)...)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// CacheDir returns ~/.cache/xrayclient, creating it if needed.
func CacheDir() (string, error) {
	return ensure(".cache", appName)
}

// DataDir returns ~/.local/share/xrayclient, creating it if needed.
// The engine store (xray-core/) and the generated config (Data/) live here.
func DataDir() (string, error) {
	return ensure(".local", "share", appName)
}

// ConfigDir returns ~/.config/xrayclient, creating it if needed.
func ConfigDir() (string, error) {
	return ensure(".config", appName)
}

// TempDir returns the download scratch directory. It lives outside the
// engine store so partial downloads never shadow installed assets.
func TempDir() string {
	return filepath.Join(os.TempDir(), appName)
}
