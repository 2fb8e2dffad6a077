package manifestio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskwire/extensions/internal/domain/manifest"
	"github.com/deskwire/extensions/internal/infrastructure/manifestio"
)

const descriptorYAML = `
id: discord
name: Discord Bridge
version: "1.2.0"
api_version: 1
description: Bridges discord voice state to the dashboard
author: deskwire
permissions:
  subscribe:
    - "system.window.*"
  network_http: true
  storage: true
`

func writeModule(t *testing.T, dir, descriptor string, binary []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(descriptor), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.wasm"), binary, 0o644))
}

func TestLoader_Load_ParsesDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, descriptorYAML, []byte("fake-wasm-bytes"))

	l := manifestio.NewLoader(1)
	m, err := l.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "discord", m.ID)
	assert.Equal(t, 1, m.APIVersion)
	assert.True(t, m.Permissions.NetworkHTTP)
	assert.Equal(t, "1.2.0", m.SemVer.String())
}

func TestLoader_Load_RejectsAPIVersionTooNew(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, `
id: x
name: X
version: "1.0.0"
api_version: 99
permissions: {}
`, []byte("bin"))

	l := manifestio.NewLoader(1)
	_, err := l.Load(dir)
	require.ErrorIs(t, err, manifest.ErrAPIVersionTooNew)
}

func TestLoader_Load_RejectsMalformedDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, `
id: x
unknown_field: true
`, []byte("bin"))

	l := manifestio.NewLoader(1)
	_, err := l.Load(dir)
	require.ErrorIs(t, err, manifest.ErrMalformed)
}

func TestWriteHashAndTamperDetection(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, descriptorYAML, []byte("original-bytes"))

	require.NoError(t, manifestio.WriteHash(dir))

	l := manifestio.NewLoader(1)
	_, err := l.Load(dir)
	require.NoError(t, err)

	// Flip a byte in the binary and reload with a fresh loader (the once
	// per-lifetime cache is per-Loader, not global).
	require.NoError(t, os.WriteFile(filepath.Join(dir, "module.wasm"), []byte("tampered-byte"), 0o644))

	l2 := manifestio.NewLoader(1)
	_, err = l2.Load(dir)
	require.ErrorIs(t, err, manifest.ErrTamperDetected)
}

func TestLoader_Load_OncePerLifetime(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, descriptorYAML, []byte("original-bytes"))

	l := manifestio.NewLoader(1)
	m1, err := l.Load(dir)
	require.NoError(t, err)

	// Mutating the descriptor on disk after the first load must not be
	// observed by a second Load within the same Loader's lifetime.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(`
id: changed
name: Changed
version: "2.0.0"
api_version: 1
permissions: {}
`), 0o644))

	m2, err := l.Load(dir)
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, "discord", m2.ID)
}
