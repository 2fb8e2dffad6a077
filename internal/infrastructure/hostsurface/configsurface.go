package hostsurface

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/deskwire/extensions/wireformat"
)

// configGetFn implements config-get(key) -> optional-string. No capability
// gates this call: the admin gates it by choosing what to write into the
// module's config section in the first place.
func configGetFn(ctx context.Context, mod api.Module, stack []uint64, cfg Config) {
	var req wireformat.ConfigGetRequestWire
	if err := readRequest(mod, stack[0], &req); err != nil {
		stack[0] = writeResponse(ctx, mod, wireformat.ConfigGetResponseWire{})
		return
	}
	value, found := cfg.ConfigMap[req.Key]
	stack[0] = writeResponse(ctx, mod, wireformat.ConfigGetResponseWire{Found: found, Value: value})
}
