// Package wazeromem adapts wazero instances to the guestpass boundary
// interfaces.
//
// WrapMemory turns an api.Memory into a guestpass.Memory; reads return
// views of linear memory, so retained bytes must be copied. WrapAllocator
// adapts a single exported cabi_realloc; ResolveAllocator additionally
// understands modules that export legacy or libc-style allocator names
// and modules with a separate free export.
//
// BindPool does both sides for a string pool in one call:
//
//	mod, err := runtime.InstantiateModule(ctx, compiled, config)
//	if err != nil {
//	    return err
//	}
//	pool := strpass.NewPool(nil, nil, strpass.PoolConfig{})
//	if err := wazeromem.BindPool(ctx, pool, mod); err != nil {
//	    return err
//	}
package wazeromem
