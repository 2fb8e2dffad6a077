package hostsurface

import (
	"context"
	"log/slog"

	"github.com/tetratelabs/wazero/api"

	"github.com/deskwire/extensions/wireformat"
)

// logMessageFn implements log(level, message): emits a diagnostic with the
// module id and level attached. The message is passed through cfg.Redactor
// first so a guest can never leak a credential into the structured logger
// via its own log calls, the same protection applied to its stdout/stderr.
func logMessageFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.LogMessageWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		slog.ErrorContext(ctx, "hostsurface: failed to decode log message", "module", cfg.ModuleID, "error", err)
		return
	}

	message := req.Message
	if cfg.Redactor != nil {
		message = cfg.Redactor.Redact(message)
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(req.Level))

	slog.Default().Log(ctx, level, message, "module", cfg.ModuleID)
}
