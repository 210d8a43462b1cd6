package hostapi

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/guestpass/errors"
	"github.com/wippyai/guestpass/strpass"
)

// ModuleName is the import namespace guests use for the string functions.
const ModuleName = "guestpass:strings"

// Exported function names.
const (
	FnNull           = "string-null"
	FnBorrow         = "string-borrow"
	FnClone          = "string-clone"
	FnCloneWithLen   = "string-clone-with-len"
	FnContent        = "string-content"
	FnContentWithLen = "string-content-with-len"
	FnIsNull         = "string-is-null"
	FnFree           = "string-free"
)

// Instantiate registers the string functions on a fresh host module named
// ModuleName and instantiates it in r. The pool may be bound before or
// after this call, but must be bound before the guest calls in.
func Instantiate(ctx context.Context, r wazero.Runtime, pool *strpass.Pool) (api.Module, error) {
	return Register(r.NewHostModuleBuilder(ModuleName), pool).Instantiate(ctx)
}

// Register adds the string functions to an existing host module builder,
// for embedders composing them with other host functions. Operation
// errors trap the calling guest; string-is-null and string-free do not
// fail on well-formed images.
func Register(builder wazero.HostModuleBuilder, pool *strpass.Pool) wazero.HostModuleBuilder {
	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			trap(pool.InitNull(uint32(stack[0])))
		}), []api.ValueType{api.ValueTypeI32}, nil).
		Export(FnNull)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			trap(pool.Borrow(uint32(stack[0]), uint32(stack[1])))
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export(FnBorrow)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			trap(pool.Clone(uint32(stack[0]), uint32(stack[1])))
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export(FnClone)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			trap(pool.CloneWithLen(uint32(stack[0]), uint32(stack[1]), uint32(stack[2])))
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export(FnCloneWithLen)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			ptr, err := pool.Content(uint32(stack[0]))
			trap(err)
			stack[0] = uint64(ptr)
		}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(FnContent)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			ptr, length, err := pool.ContentWithLen(uint32(stack[0]))
			trap(err)
			writeReturnArea(pool, uint32(stack[1]), ptr, length)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export(FnContentWithLen)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			null, err := pool.IsNull(uint32(stack[0]))
			trap(err)
			if null {
				stack[0] = 1
			} else {
				stack[0] = 0
			}
		}), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		Export(FnIsNull)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			trap(pool.Free(uint32(stack[0])))
		}), []api.ValueType{api.ValueTypeI32}, nil).
		Export(FnFree)

	Logger().Debug("registered string host functions",
		zap.String("module", ModuleName))
	return builder
}

// writeReturnArea lowers the {ptr, len} pair of string-content-with-len
// into the caller-provided return area.
func writeReturnArea(pool *strpass.Pool, ret, ptr, length uint32) {
	if ret == 0 {
		trap(errors.NilPointer(errors.PhaseHost, "return area"))
	}
	mem := pool.Memory()
	if mem == nil {
		trap(errors.NotBound(errors.PhaseHost, "string pool"))
	}
	trap(mem.WriteU32(ret, ptr))
	trap(mem.WriteU32(ret+4, length))
}

// trap aborts the calling guest. wazero converts the panic into an error
// on the original call into the instance.
func trap(err error) {
	if err != nil {
		panic(err)
	}
}
