package xray

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	pkgerrors "xrayclient/pkg/errors"
)

// Data asset file names, identical in the bundle and the store.
const (
	GeoIPFile   = "geoip.dat"
	GeoSiteFile = "geosite.dat"
)

// Locator resolves the writable engine store and the read-only bundle the
// application ships with.
type Locator struct {
	storeDir  string
	bundleDir string
	goos      string
	goarch    string
}

// NewLocator creates a locator for the running platform.
func NewLocator(storeDir, bundleDir string) *Locator {
	return &Locator{
		storeDir:  storeDir,
		bundleDir: bundleDir,
		goos:      runtime.GOOS,
		goarch:    runtime.GOARCH,
	}
}

// StoreDir returns the writable store directory.
func (l *Locator) StoreDir() string { return l.storeDir }

// BinaryPath returns the installed engine binary.
func (l *Locator) BinaryPath() string {
	name := "xray"
	if l.goos == "windows" {
		name = "xray.exe"
	}
	return filepath.Join(l.storeDir, name)
}

// GeoIPPath returns the installed geoip.dat.
func (l *Locator) GeoIPPath() string { return filepath.Join(l.storeDir, GeoIPFile) }

// GeoSitePath returns the installed geosite.dat.
func (l *Locator) GeoSitePath() string { return filepath.Join(l.storeDir, GeoSiteFile) }

// BundledBinaryPath returns the platform variant of the shipped engine.
func (l *Locator) BundledBinaryPath() (string, error) {
	variant, err := BundleVariant(l.goos, l.goarch)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.bundleDir, variant), nil
}

// BundleVariant names the shipped engine build for a platform.
func BundleVariant(goos, goarch string) (string, error) {
	switch goos {
	case "darwin":
		if goarch == "arm64" {
			return "xray-macos-arm64-v8a", nil
		}
		return "xray-macos-64", nil
	case "windows":
		return "xray-windows-64.exe", nil
	case "linux":
		if goarch == "arm64" {
			return "xray-linux-arm64-v8a", nil
		}
		return "xray-linux-64", nil
	}
	return "", fmt.Errorf("no bundled engine for %s/%s", goos, goarch)
}

// EnsureInstalled creates the store and copies each of the engine binary,
// geoip.dat and geosite.dat from the bundle when missing. Existing store
// files are never overwritten since they may hold in-place updates.
func (l *Locator) EnsureInstalled(ctx context.Context) error {
	if err := os.MkdirAll(l.storeDir, 0755); err != nil {
		return fmt.Errorf("failed to create engine store: %w", err)
	}

	bundledBinary, err := l.BundledBinaryPath()
	if err != nil {
		return err
	}

	files := []struct {
		src, dst string
		mode     os.FileMode
	}{
		{bundledBinary, l.BinaryPath(), 0755},
		{filepath.Join(l.bundleDir, GeoIPFile), l.GeoIPPath(), 0644},
		{filepath.Join(l.bundleDir, GeoSiteFile), l.GeoSitePath(), 0644},
	}

	g, _ := errgroup.WithContext(ctx)
	for _, f := range files {
		g.Go(func() error {
			if _, err := os.Stat(f.dst); err == nil {
				return nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := CopyFile(f.src, f.dst, f.mode); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("%w: %s", pkgerrors.ErrCoreNotFound, f.src)
				}
				return fmt.Errorf("failed to install %s: %w", filepath.Base(f.dst), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// GeoLastUpdate returns the modification time of the installed geosite.dat.
func (l *Locator) GeoLastUpdate() (time.Time, error) {
	info, err := os.Stat(l.GeoSitePath())
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// CopyFile copies src to dst through a temporary sibling so a partially
// copied file never appears under dst.
func CopyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// MoveFile renames src over dst, falling back to copy and remove when the
// two paths sit on different filesystems.
func MoveFile(src, dst string, mode os.FileMode) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst, mode); err != nil {
		return err
	}
	return os.Remove(src)
}
