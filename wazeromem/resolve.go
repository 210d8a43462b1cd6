package wazeromem

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
	"github.com/wippyai/guestpass/strpass"
)

// Export names an instance's allocator may be found under. The canonical
// ABI name is tried first, then names used by pre-standardization
// component toolchains and plain libc-style builds.
const (
	cabiRealloc = "cabi_realloc"
	cabiFree    = "cabi_free"

	legacyRealloc = "canonical_abi_realloc"
	legacyAlloc   = "allocate"
	simpleAlloc   = "alloc"
	libcAlloc     = "malloc"
	legacyDealloc = "deallocate"
	simpleFree    = "free"
)

var allocNames = []string{cabiRealloc, legacyRealloc, legacyAlloc, simpleAlloc, libcAlloc}
var freeNames = []string{cabiFree, legacyDealloc, simpleFree}

// ResolveAllocator finds a module's allocator exports and returns an
// adapter over them. Four-parameter exports are called with the
// cabi_realloc convention; anything smaller is treated as a simple
// alloc(size) function. A separate free export is used when present;
// otherwise a cabi_realloc-shaped allocator frees through realloc(ptr,
// size, align, 0), and a module with no free path at all gets no-op frees.
func ResolveAllocator(ctx context.Context, mod api.Module) (guestpass.Allocator, error) {
	defs := mod.ExportedFunctionDefinitions()

	var allocFn api.Function
	var allocName string
	for _, name := range allocNames {
		if defs[name] != nil {
			allocFn = mod.ExportedFunction(name)
			allocName = name
			break
		}
	}
	if allocFn == nil {
		return nil, errors.New(errors.PhaseAlloc, errors.KindNotBound).
			Detail("module exports no known allocator (tried %v)", allocNames).
			Build()
	}
	simple := len(allocFn.Definition().ParamTypes()) < 4

	var freeFn api.Function
	var freeName string
	for _, name := range freeNames {
		if defs[name] != nil {
			freeFn = mod.ExportedFunction(name)
			freeName = name
			break
		}
	}
	if freeFn == nil && !simple {
		// cabi_realloc doubles as the free path
		freeName = allocName
	}

	Logger().Debug("resolved guest allocator",
		zap.String("module", mod.Name()),
		zap.String("alloc", allocName),
		zap.String("free", freeName),
		zap.Bool("simple", simple))

	return &moduleAllocator{
		ctx:     ctx,
		allocFn: allocFn,
		freeFn:  freeFn,
		simple:  simple,
	}, nil
}

// moduleAllocator drives a module's resolved allocator exports. A shared
// stack buffer backs every call, so calls are serialized.
type moduleAllocator struct {
	ctx      context.Context
	allocFn  api.Function
	freeFn   api.Function
	mu       sync.Mutex
	stackBuf [4]uint64
	simple   bool
}

func (a *moduleAllocator) context() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

func (a *moduleAllocator) Alloc(size, align uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.simple {
		a.stackBuf[0] = uint64(size)
		if err := a.allocFn.CallWithStack(a.context(), a.stackBuf[:1]); err != nil {
			return 0, errors.AllocationFailed(errors.PhaseAlloc, size, align, err)
		}
		return uint32(a.stackBuf[0]), nil
	}

	a.stackBuf[0] = 0
	a.stackBuf[1] = 0
	a.stackBuf[2] = uint64(align)
	a.stackBuf[3] = uint64(size)
	if err := a.allocFn.CallWithStack(a.context(), a.stackBuf[:4]); err != nil {
		return 0, errors.AllocationFailed(errors.PhaseAlloc, size, align, err)
	}
	return uint32(a.stackBuf[0]), nil
}

func (a *moduleAllocator) Free(ptr, size, align uint32) {
	if ptr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.freeFn != nil:
		a.stackBuf[0] = uint64(ptr)
		a.stackBuf[1] = uint64(size)
		a.stackBuf[2] = uint64(align)
		if err := a.freeFn.CallWithStack(a.context(), a.stackBuf[:3]); err != nil {
			warnFreeFailed(ptr, size, err)
		}
	case !a.simple:
		a.stackBuf[0] = uint64(ptr)
		a.stackBuf[1] = uint64(size)
		a.stackBuf[2] = uint64(align)
		a.stackBuf[3] = 0
		if err := a.allocFn.CallWithStack(a.context(), a.stackBuf[:4]); err != nil {
			warnFreeFailed(ptr, size, err)
		}
	}
	// a simple allocator with no free export has no release path
}

func warnFreeFailed(ptr, size uint32, err error) {
	Logger().Warn("guest deallocation failed",
		zap.Uint32("ptr", ptr),
		zap.Uint32("size", size),
		zap.Error(err))
}

// BindPool wires a module's exported memory and allocator into a string
// pool. A module without a resolvable allocator still binds its memory;
// image operations work, content views that need guest allocations fail
// until an allocator is bound.
func BindPool(ctx context.Context, pool *strpass.Pool, mod api.Module) error {
	mem := mod.Memory()
	if mem == nil {
		return errors.New(errors.PhaseHost, errors.KindNotBound).
			Detail("module %q exports no memory", mod.Name()).
			Build()
	}

	alloc, err := ResolveAllocator(ctx, mod)
	if err != nil {
		Logger().Warn("binding pool without a guest allocator",
			zap.String("module", mod.Name()),
			zap.Error(err))
		alloc = nil
	}

	pool.Bind(WrapMemory(mem), alloc)
	return nil
}
