package hostsurface

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// i64in1 and i64out1 describe the overwhelming majority of host functions
// here: one packed-ptr+len argument in, one packed-ptr+len result out.
var (
	i64in1  = []api.ValueType{api.ValueTypeI64}
	i64out1 = []api.ValueType{api.ValueTypeI64}
	i64in1out0 = []api.ValueType{api.ValueTypeI64}
	noResult   = []api.ValueType{}
)

// Register builds and instantiates the "ext_host" host module for one guest
// instance's wazero.Runtime, binding every host-surface function name to
// an implementation closing over cfg.
func Register(ctx context.Context, rt wazero.Runtime, cfg Config) (api.Closer, error) {
	b := rt.NewHostModuleBuilder("ext_host")

	export := func(name string, fn func(ctx context.Context, mod api.Module, stack []uint64), params, results []api.ValueType) {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(fn), params, results).
			Export(name)
	}

	export("subscribe", func(ctx context.Context, mod api.Module, stack []uint64) {
		subscribeFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("emit", func(ctx context.Context, mod api.Module, stack []uint64) {
		emitFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("call", func(ctx context.Context, mod api.Module, stack []uint64) {
		callFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("http_request", func(ctx context.Context, mod api.Module, stack []uint64) {
		httpRequestFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("websocket_connect", func(ctx context.Context, mod api.Module, stack []uint64) {
		websocketConnectFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("websocket_send", func(ctx context.Context, mod api.Module, stack []uint64) {
		websocketSendFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("websocket_close", func(ctx context.Context, mod api.Module, stack []uint64) {
		websocketCloseFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("tcp_connect", func(ctx context.Context, mod api.Module, stack []uint64) {
		tcpConnectFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("tcp_send", func(ctx context.Context, mod api.Module, stack []uint64) {
		tcpSendFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("tcp_close", func(ctx context.Context, mod api.Module, stack []uint64) {
		tcpCloseFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("storage_get", func(ctx context.Context, mod api.Module, stack []uint64) {
		storageGetFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("storage_set", func(ctx context.Context, mod api.Module, stack []uint64) {
		storageSetFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("storage_delete", func(ctx context.Context, mod api.Module, stack []uint64) {
		storageDeleteFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("config_get", func(ctx context.Context, mod api.Module, stack []uint64) {
		configGetFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("set_timeout", func(ctx context.Context, mod api.Module, stack []uint64) {
		setTimeoutFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("set_interval", func(ctx context.Context, mod api.Module, stack []uint64) {
		setIntervalFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("clear_timer", func(ctx context.Context, mod api.Module, stack []uint64) {
		clearTimerFn(ctx, mod, stack, cfg)
	}, i64in1, i64out1)

	export("log_message", func(ctx context.Context, mod api.Module, stack []uint64) {
		logMessageFn(ctx, mod, stack, cfg)
	}, i64in1out0, noResult)

	return b.Instantiate(ctx)
}
