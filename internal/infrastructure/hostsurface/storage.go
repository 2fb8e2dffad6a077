package hostsurface

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/deskwire/extensions/wireformat"
)

// sanitizeKey replaces every character outside [A-Za-z0-9._-] with "_" so a
// storage key can never escape the per-module storage directory or collide
// with a reserved filename.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// storageGetFn implements storage-get(key) -> optional-string. Denial of
// the storage capability returns the empty option silently: storage has no
// guest-visible capability-denied error shape, unlike network/driver calls.
func storageGetFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.StorageGetRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.StorageGetResponseWire{})
		return
	}

	if cfg.Validator.CheckStorage() != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.StorageGetResponseWire{})
		return
	}

	data, err := os.ReadFile(filepath.Join(cfg.StorageDir, sanitizeKey(req.Key)))
	if err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.StorageGetResponseWire{})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.StorageGetResponseWire{Found: true, Value: string(data)})
}

// storageSetFn implements storage-set(key, value).
func storageSetFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.StorageSetRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.Validator.CheckStorage(); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	path := filepath.Join(cfg.StorageDir, sanitizeKey(req.Key))
	if err := os.WriteFile(path, []byte(req.Value), 0o644); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}

// storageDeleteFn implements storage-delete(key).
func storageDeleteFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.StorageDeleteRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	if err := cfg.Validator.CheckStorage(); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("capability", err)})
		return
	}

	path := filepath.Join(cfg.StorageDir, sanitizeKey(req.Key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{Error: wireformat.NewErrorDetail("internal", err)})
		return
	}
	stack[0] = writeResponse(ctx, mod, wireformat.AckResponseWire{})
}
