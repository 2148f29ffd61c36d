package pluginhost

import (
	"fmt"
	"sync"

	"github.com/fluxdaw/fluxdaw/abi"
)

// ArenaCapacity bounds the number of concurrently loaded plugin instances
// (instrument + effect slots across TRACK_MAX tracks with headroom).
const ArenaCapacity = 256

// arenaSlot holds one (possibly empty) handle plus the generation counter
// that invalidates any HandleID still referencing a slot after it is freed.
type arenaSlot struct {
	generation uint32
	handle     *PluginHandle
}

// Arena owns every loaded PluginHandle. Snapshots (state.StateSnapshot)
// store HandleID values rather than pointers; the audio thread resolves
// them through Resolve under the arena's lock, which is held only for the
// pointer lookup, never across a Process call (spec.md §9 Design Note).
type Arena struct {
	mu    sync.RWMutex
	slots [ArenaCapacity]arenaSlot
}

// NewArena creates an empty handle arena.
func NewArena() *Arena {
	return &Arena{}
}

// Load opens path as a dynamic library, negotiates the ABI entry point and
// extensions, and returns a new HandleID. UI thread only. On failure the
// arena is left unchanged (plugin_load_failed, spec.md §7).
func (a *Arena) Load(path, pluginID string) (HandleID, error) {
	lib, err := openLibrary(path)
	if err != nil {
		return NoHandle, err
	}
	c, err := bindEntry(lib)
	if err != nil {
		lib.Close()
		return NoHandle, err
	}
	entry := &nativeEntry{lib: lib, c: c}
	if !entry.Init(path) {
		lib.Close()
		return NoHandle, fmt.Errorf("pluginhost: %s: entry.Init returned false", path)
	}
	factory := entry.GetFactory(abi.FactoryIDPlugin)
	if factory == nil {
		entry.Deinit()
		lib.Close()
		return NoHandle, fmt.Errorf("pluginhost: %s: no plugin factory", path)
	}
	plugin := factory.CreatePlugin(nil, pluginID)
	if plugin == nil {
		entry.Deinit()
		lib.Close()
		return NoHandle, fmt.Errorf("pluginhost: %s: create_plugin(%s) returned nil", path, pluginID)
	}
	return a.adopt(path, lib, entry, factory, plugin)
}

// adopt wires up a handle already constructed from ABI pieces (used by
// Load, and directly by tests with an in-process fake abi.Plugin instead
// of a real dynamic library).
func (a *Arena) adopt(path string, lib *loadedLibrary, entry abi.Entry, factory abi.Factory, plugin abi.Plugin) (HandleID, error) {
	if !plugin.Init() {
		return NoHandle, fmt.Errorf("pluginhost: %s: plugin.Init returned false", path)
	}
	h := &PluginHandle{
		path:       path,
		lib:        lib,
		entry:      entry,
		factory:    factory,
		plugin:     plugin,
		state:      StateInitialized,
		extensions: negotiateExtensions(plugin),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.slots {
		if a.slots[i].handle == nil {
			a.slots[i].handle = h
			id := HandleID{Index: int32(i), Generation: a.slots[i].generation}
			h.id = id
			return id, nil
		}
	}
	return NoHandle, fmt.Errorf("pluginhost: arena exhausted (capacity %d)", ArenaCapacity)
}

// AdoptForTesting exposes adopt to package-external tests via an internal
// test-only entry point, avoiding the need to drive a real dlopen in unit
// tests of the lifecycle state machine.
func (a *Arena) AdoptForTesting(path string, plugin abi.Plugin) (HandleID, error) {
	return a.adopt(path, nil, nil, nil, plugin)
}

// Resolve returns the handle for id, or (nil, false) if id is stale (the
// slot was freed and possibly reused) or out of range. Safe to call from
// the audio thread: the lock guards only the slice read.
func (a *Arena) Resolve(id HandleID) (*PluginHandle, bool) {
	if !id.Valid() || int(id.Index) >= len(a.slots) {
		return nil, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	slot := &a.slots[id.Index]
	if slot.handle == nil || slot.generation != id.Generation {
		return nil, false
	}
	return slot.handle, true
}

// Free destroys the handle at id (if still current) and bumps the slot's
// generation so any stale HandleID copies fail to resolve. UI thread only,
// and only after wait_for_idle (state.SharedState.WaitForIdle).
func (a *Arena) Free(id HandleID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !id.Valid() || int(id.Index) >= len(a.slots) {
		return fmt.Errorf("pluginhost: invalid handle %+v", id)
	}
	slot := &a.slots[id.Index]
	if slot.handle == nil || slot.generation != id.Generation {
		return fmt.Errorf("pluginhost: stale handle %+v", id)
	}
	h := slot.handle
	h.mu.Lock()
	if h.state != StateDestroyed {
		h.plugin.Destroy()
		h.state = StateDestroyed
	}
	h.mu.Unlock()
	if h.entry != nil {
		h.entry.Deinit()
	}
	if h.lib != nil {
		h.lib.Close()
	}
	slot.handle = nil
	slot.generation++
	return nil
}

// Count returns the number of live handles, for diagnostics/tests.
func (a *Arena) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for i := range a.slots {
		if a.slots[i].handle != nil {
			n++
		}
	}
	return n
}
