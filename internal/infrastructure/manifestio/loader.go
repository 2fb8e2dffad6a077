// Package manifestio implements the Manifest Loader: reads a module's
// on-disk descriptor and binary, verifies the tamper hash, checks host-API
// compatibility, and writes the hash at install time. Path handling is
// traversal-safe: every read is scoped with os.OpenRoot to the module's
// own install directory.
package manifestio

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/deskwire/extensions/internal/domain/manifest"
)

const (
	descriptorFilename = "manifest.yaml"
	binaryFilename     = "module.wasm"
	hashFilename       = "manifest.hash"
)

// descriptorDoc mirrors the on-disk YAML shape. KnownFields(true) below
// rejects any key outside this shape as a malformed descriptor.
type descriptorDoc struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Version     string              `yaml:"version"`
	APIVersion  int                 `yaml:"api_version"`
	Description string              `yaml:"description"`
	Author      string              `yaml:"author"`
	Permissions  manifest.Permissions `yaml:"permissions"`
	ConfigSchema string               `yaml:"config_schema"`
}

// Loader loads Manifests from module install directories, enforcing the
// "at most once per install-directory per host lifetime" invariant across
// concurrent callers.
type Loader struct {
	hostAPIVersion int

	loadedOnce sync.Map // dir -> *loadResult
	group      singleflight.Group
}

type loadResult struct {
	manifest *manifest.Manifest
	err      error
}

// NewLoader builds a Loader bound to the compiled-in host API version.
func NewLoader(hostAPIVersion int) *Loader {
	return &Loader{hostAPIVersion: hostAPIVersion}
}

// Load reads dir's descriptor and binary, verifies the tamper hash when one
// exists, checks api_version compatibility, and parses the descriptor.
// Concurrent calls for the same dir within this Loader's lifetime collapse
// into a single disk read and return the same result.
func (l *Loader) Load(dir string) (*manifest.Manifest, error) {
	if cached, ok := l.loadedOnce.Load(dir); ok {
		res := cached.(*loadResult)
		return res.manifest, res.err
	}

	v, err, _ := l.group.Do(dir, func() (interface{}, error) {
		m, loadErr := l.loadOnce(dir)
		res := &loadResult{manifest: m, err: loadErr}
		l.loadedOnce.Store(dir, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	res := v.(*loadResult)
	return res.manifest, res.err
}

func (l *Loader) loadOnce(dir string) (*manifest.Manifest, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("manifestio: open module directory: %w", err)
	}
	defer root.Close()

	descBytes, err := readAll(root, descriptorFilename)
	if err != nil {
		return nil, fmt.Errorf("manifestio: read descriptor: %w", err)
	}
	binBytes, err := readAll(root, binaryFilename)
	if err != nil {
		return nil, fmt.Errorf("manifestio: read binary: %w", err)
	}

	if storedHash, err := readAll(root, hashFilename); err == nil {
		if err := verifyHash(descBytes, binBytes, string(storedHash)); err != nil {
			return nil, err
		}
	}

	var doc descriptorDoc
	dec := yaml.NewDecoder(bytes.NewReader(descBytes))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", manifest.ErrMalformed, err)
	}

	if doc.APIVersion > l.hostAPIVersion {
		return nil, fmt.Errorf("%w: manifest api_version %d > host %d",
			manifest.ErrAPIVersionTooNew, doc.APIVersion, l.hostAPIVersion)
	}

	sv, err := semver.NewVersion(doc.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", manifest.ErrInvalidVersion, err)
	}

	return &manifest.Manifest{
		ID:           doc.ID,
		Name:         doc.Name,
		Version:      doc.Version,
		APIVersion:   doc.APIVersion,
		Description:  doc.Description,
		Author:       doc.Author,
		Permissions:  doc.Permissions,
		ConfigSchema: doc.ConfigSchema,
		SemVer:       sv,
	}, nil
}

// WriteHash computes and stores the tamper hash for dir's current
// descriptor and binary. Callers must only invoke this once the admin has
// confirmed the manifest's declared permissions — permissions are fixed at
// install time and this is the point at which they become binding.
func WriteHash(dir string) error {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return fmt.Errorf("manifestio: open module directory: %w", err)
	}
	defer root.Close()

	descBytes, err := readAll(root, descriptorFilename)
	if err != nil {
		return fmt.Errorf("manifestio: read descriptor: %w", err)
	}
	binBytes, err := readAll(root, binaryFilename)
	if err != nil {
		return fmt.Errorf("manifestio: read binary: %w", err)
	}

	digest := computeHash(descBytes, binBytes)

	f, err := root.Create(hashFilename)
	if err != nil {
		return fmt.Errorf("manifestio: write hash: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(digest); err != nil {
		return fmt.Errorf("manifestio: write hash: %w", err)
	}
	return nil
}

func verifyHash(descBytes, binBytes []byte, stored string) error {
	want := computeHash(descBytes, binBytes)
	if want != stored {
		return manifest.ErrTamperDetected
	}
	return nil
}

func computeHash(descBytes, binBytes []byte) string {
	h := sha256.New()
	h.Write(descBytes)
	h.Write(binBytes)
	return hex.EncodeToString(h.Sum(nil))
}

func readAll(root *os.Root, name string) ([]byte, error) {
	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// BinaryPath returns the absolute path to dir's component binary.
func BinaryPath(dir string) string {
	return filepath.Join(dir, binaryFilename)
}

// StorageDir returns dir's per-module storage subdirectory.
func StorageDir(dir string) string {
	return filepath.Join(dir, "storage")
}
