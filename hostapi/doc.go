// Package hostapi exposes string pool operations to guests as importable
// host functions.
//
// Guests import the functions from the "guestpass:strings" module and
// manipulate string images in their own linear memory; the host keeps the
// content. Registration composes with other host modules:
//
//	pool := strpass.NewPool(nil, nil, strpass.PoolConfig{})
//	if _, err := hostapi.Instantiate(ctx, runtime, pool); err != nil {
//	    return err
//	}
//	mod, err := runtime.InstantiateModule(ctx, compiled, config)
//	if err != nil {
//	    return err
//	}
//	if err := wazeromem.BindPool(ctx, pool, mod); err != nil {
//	    return err
//	}
//
// Errors trap the calling guest, surfacing on the host's original call
// into the instance. A guest that only passes well-formed images it owns
// never traps: string-free of an absent image and string-is-null of any
// image are defined, and double frees read the absent sentinel left by
// the first.
package hostapi
