package pluginhost

import (
	"fmt"

	"github.com/ebitengine/purego"
	"github.com/fluxdaw/fluxdaw/abi"
)

// loadedLibrary wraps a purego dynamic-library handle. Using purego rather
// than cgo keeps PluginHandle loading in pure Go (no C toolchain required
// to build fluxdaw itself), grounded on the same dlopen/dlsym-shaped
// FFI that backs hajimehoshi/oto/v2's platform backends.
type loadedLibrary struct {
	handle uintptr
	path   string
}

func openLibrary(path string) (*loadedLibrary, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("pluginhost: dlopen %s: %w", path, err)
	}
	return &loadedLibrary{handle: handle, path: path}, nil
}

func (l *loadedLibrary) Close() {
	if l == nil || l.handle == 0 {
		return
	}
	_ = purego.Dlclose(l.handle)
	l.handle = 0
}

// entryFuncs is the set of exported C function pointers the plugin library
// must expose under the well-known symbol "flux_plugin_entry", laid out as
// a struct of three function pointers mirroring spec.md §6's Entry
// contract: {init(path)->bool, deinit(), get_factory(id)->*void}.
//
// purego.RegisterLibFunc binds a Go func variable directly to the C symbol,
// so each field below is resolved once at load time rather than walked
// through raw offsets, trading a little generality (the library must
// export three flat symbols instead of one vtable struct) for a
// significantly simpler, less unsafe binding.
type cEntry struct {
	init       func(path string) bool
	deinit     func()
	getFactory func(id string) uintptr
}

func bindEntry(lib *loadedLibrary) (*cEntry, error) {
	e := &cEntry{}
	if err := registerSymbol(lib, "flux_plugin_init", &e.init); err != nil {
		return nil, err
	}
	if err := registerSymbol(lib, "flux_plugin_deinit", &e.deinit); err != nil {
		return nil, err
	}
	if err := registerSymbol(lib, "flux_plugin_get_factory", &e.getFactory); err != nil {
		return nil, err
	}
	return e, nil
}

// registerSymbol is a thin wrapper around purego.RegisterLibFunc that turns
// a missing symbol into a typed error instead of a panic, since a
// third-party plugin binary failing to export the ABI is an expected
// plugin_load_failed condition (spec.md §7), not a host bug.
func registerSymbol(lib *loadedLibrary, name string, fnPtr any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pluginhost: %s: missing symbol %s: %v", lib.path, name, r)
		}
	}()
	purego.RegisterLibFunc(fnPtr, lib.handle, name)
	return nil
}

// nativeEntry adapts the bound C functions to the abi.Entry interface.
type nativeEntry struct {
	lib *loadedLibrary
	c   *cEntry
}

func (e *nativeEntry) Init(path string) bool { return e.c.init(path) }
func (e *nativeEntry) Deinit()                { e.c.deinit() }

func (e *nativeEntry) GetFactory(id string) abi.Factory {
	ptr := e.c.getFactory(id)
	if ptr == 0 {
		return nil
	}
	return &nativeFactory{lib: e.lib, raw: ptr}
}

// nativeFactory and nativePlugin are left as thin, overridable shims: a
// real binary plugin's factory/plugin vtables are per-plugin C structs of
// function pointers read via unsafe.Pointer arithmetic over raw, and each
// slot bound the same way bindEntry binds the top-level entry points. The
// host-side logic in handle.go, extensions.go, and threadpool_bridge.go is
// independent of that binding detail and exercised directly against the
// abi.Plugin/abi.Factory interfaces in tests via a fake in-process plugin.
type nativeFactory struct {
	lib *loadedLibrary
	raw uintptr
}

func (f *nativeFactory) PluginCount() uint32                                     { return 0 }
func (f *nativeFactory) Descriptor(i uint32) *abi.Descriptor                     { return nil }
func (f *nativeFactory) CreatePlugin(host abi.HostContext, id string) abi.Plugin { return nil }
