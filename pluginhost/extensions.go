package pluginhost

import (
	"context"

	"github.com/fluxdaw/fluxdaw/abi"
)

// PluginThreadPool is the plugin-side half of the thread_pool extension
// (spec.md §4.H): once the host grants a fan-out via hostThreadPool.RequestExec,
// it calls Exec once per task index, each invocation dispatched onto a
// jobpool worker. ctx carries this call's nesting depth (see withDepth in
// threadpool_bridge.go) so a plugin's Exec that itself calls back into
// RequestExec observes the correct, incremented depth instead of the depth
// its own RequestExec call was originally made at.
type PluginThreadPool interface {
	Exec(ctx context.Context, taskIndex uint32)
}

// PluginState is the plugin-side half of the state extension: opaque
// save/load for session persistence (wired into serializer.go's
// capture_state/restore_state).
type PluginState interface {
	Save() ([]byte, error)
	Load(data []byte) error
}

// extensionSet is the result of negotiating every extension a plugin
// advertises via abi.Plugin.GetExtension at Init time. Any field may be nil
// if the plugin does not implement that extension.
type extensionSet struct {
	threadPool PluginThreadPool
	state      PluginState
}

// negotiateExtensions queries plugin for every extension the host
// understands (spec.md §4.D: "during init, the plugin's get_extension is
// queried by stable string IDs"). Unrecognized or mistyped return values are
// treated as "not supported" rather than an error — a plugin misbehaving on
// an optional extension should not block loading.
func negotiateExtensions(plugin abi.Plugin) *extensionSet {
	set := &extensionSet{}
	if v := plugin.GetExtension(abi.ExtThreadPool); v != nil {
		if tp, ok := v.(PluginThreadPool); ok {
			set.threadPool = tp
		}
	}
	if v := plugin.GetExtension(abi.ExtState); v != nil {
		if st, ok := v.(PluginState); ok {
			set.state = st
		}
	}
	return set
}

// HasThreadPool reports whether the plugin negotiated thread_pool.
func (e *extensionSet) HasThreadPool() bool { return e != nil && e.threadPool != nil }

// HasState reports whether the plugin negotiated state save/load.
func (e *extensionSet) HasState() bool { return e != nil && e.state != nil }

// SaveState captures the plugin's opaque state via its negotiated state
// extension (spec.md §6 "capture_state"). Callers must check HasState first.
func (e *extensionSet) SaveState() ([]byte, error) { return e.state.Save() }

// LoadState restores the plugin's opaque state via its negotiated state
// extension (spec.md §6 "restore_state"). Callers must check HasState first.
func (e *extensionSet) LoadState(data []byte) error { return e.state.Load(data) }

// threadIdentityKey is the context.Context key carrying the §5 thread-role
// flags. Go has no per-goroutine TLS the way the ABI's thread_check
// extension assumes (is_main_thread / is_audio_thread queried off a
// pthread-local), so the host instead threads a small identity value
// through context.Context on every call path that crosses into plugin code,
// and ThreadRegistry below answers out of that value.
type threadIdentityKey struct{}

// ThreadIdentity records which role the current goroutine is playing for
// the duration of a plugin call chain.
type ThreadIdentity struct {
	MainThread  bool
	AudioThread bool
}

// WithThreadIdentity returns a derived context asserting id for any plugin
// call made further down the call chain.
func WithThreadIdentity(ctx context.Context, id ThreadIdentity) context.Context {
	return context.WithValue(ctx, threadIdentityKey{}, id)
}

// identityFrom extracts the thread identity carried by ctx, defaulting to
// "neither" (which is itself a meaningful, safe answer: a thread_check
// query racing ahead of any WithThreadIdentity call should never claim to
// be the main or audio thread).
func identityFrom(ctx context.Context) ThreadIdentity {
	if ctx == nil {
		return ThreadIdentity{}
	}
	if v, ok := ctx.Value(threadIdentityKey{}).(ThreadIdentity); ok {
		return v
	}
	return ThreadIdentity{}
}

// ThreadRegistry implements the host side of the thread_check extension,
// answering is_main_thread/is_audio_thread from the context.Context the
// caller threads through rather than from any real thread-local storage.
type ThreadRegistry struct{}

// NewThreadRegistry constructs a ThreadRegistry. It carries no state of its
// own; every query is answered entirely from the context passed in.
func NewThreadRegistry() *ThreadRegistry { return &ThreadRegistry{} }

// IsMainThread reports whether ctx was tagged as the UI/main thread.
func (r *ThreadRegistry) IsMainThread(ctx context.Context) bool {
	return identityFrom(ctx).MainThread
}

// IsAudioThread reports whether ctx was tagged as an audio-graph worker.
func (r *ThreadRegistry) IsAudioThread(ctx context.Context) bool {
	return identityFrom(ctx).AudioThread
}
