package xray

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "xrayclient/pkg/errors"
)

func TestBundleVariant(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"darwin", "arm64", "xray-macos-arm64-v8a", false},
		{"darwin", "amd64", "xray-macos-64", false},
		{"windows", "amd64", "xray-windows-64.exe", false},
		{"linux", "amd64", "xray-linux-64", false},
		{"linux", "arm64", "xray-linux-arm64-v8a", false},
		{"plan9", "386", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			got, err := BundleVariant(tt.goos, tt.goarch)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestLocator(t *testing.T) (*Locator, string) {
	t.Helper()
	root := t.TempDir()
	bundle := filepath.Join(root, "bundle")
	require.NoError(t, os.MkdirAll(bundle, 0755))

	l := &Locator{storeDir: filepath.Join(root, "store"), bundleDir: bundle, goos: "linux", goarch: "amd64"}
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "xray-linux-64"), []byte("bundled-binary"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, GeoIPFile), []byte("bundled-geoip"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, GeoSiteFile), []byte("bundled-geosite"), 0644))
	return l, bundle
}

func TestEnsureInstalled_CopiesMissing(t *testing.T) {
	l, _ := newTestLocator(t)

	require.NoError(t, l.EnsureInstalled(context.Background()))

	data, err := os.ReadFile(l.BinaryPath())
	require.NoError(t, err)
	assert.Equal(t, "bundled-binary", string(data))

	info, err := os.Stat(l.BinaryPath())
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "binary must be executable")

	data, err = os.ReadFile(l.GeoSitePath())
	require.NoError(t, err)
	assert.Equal(t, "bundled-geosite", string(data))
}

func TestEnsureInstalled_NeverOverwrites(t *testing.T) {
	l, _ := newTestLocator(t)
	require.NoError(t, os.MkdirAll(l.StoreDir(), 0755))
	require.NoError(t, os.WriteFile(l.GeoIPPath(), []byte("updated-geoip"), 0644))

	require.NoError(t, l.EnsureInstalled(context.Background()))
	require.NoError(t, l.EnsureInstalled(context.Background()))

	data, err := os.ReadFile(l.GeoIPPath())
	require.NoError(t, err)
	assert.Equal(t, "updated-geoip", string(data))
}

func TestEnsureInstalled_MissingBundleIsFatal(t *testing.T) {
	l, bundle := newTestLocator(t)
	require.NoError(t, os.Remove(filepath.Join(bundle, GeoSiteFile)))

	err := l.EnsureInstalled(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrCoreNotFound)
}

func TestMoveFile_Overwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "geo.dat.tmp")
	dst := filepath.Join(dir, GeoIPFile)
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	require.NoError(t, MoveFile(src, dst, 0644))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}
