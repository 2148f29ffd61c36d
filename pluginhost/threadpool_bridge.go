package pluginhost

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/fluxdaw/fluxdaw/abi"
	"github.com/fluxdaw/fluxdaw/jobpool"
)

// MaxNestingDepth bounds how many thread_pool requests may be in flight,
// nested inside one another, across every plugin at once (spec.md §9's
// resolution of the nesting-depth Open Question: cap at 4). A plugin's
// Exec callback is free to itself call RequestExec again — a plugin
// recursively fanning out sub-work — and this is what that recursion is
// bounded against, independent of jobpool's own MaxBatchSlots ring.
const MaxNestingDepth = 4

type depthKey struct{}

func withDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthKey{}, d)
}

func depthFrom(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// Bridge implements the host side of the thread_pool extension (spec.md
// §4.H): a plugin holding a hostThreadPool asks the host to fan out
// numTasks calls to its Exec method across the job pool instead of looping
// serially itself. Grounded on clapgo's ThreadPoolHelper (host-driven
// request_exec dispatching into plugin-owned Exec) fused with
// golang.org/x/sync/semaphore to bound recursive depth the way
// MaxBatchSlots alone cannot (a deeply recursive plugin could otherwise
// starve the slot ring long before tripping any per-call limit).
type Bridge struct {
	pool *jobpool.Pool
	sem  *semaphore.Weighted
}

// NewBridge wires a Bridge to pool, the same jobpool.Pool the audio graph
// itself submits synth/process batches to.
func NewBridge(pool *jobpool.Pool) *Bridge {
	return &Bridge{pool: pool, sem: semaphore.NewWeighted(MaxNestingDepth)}
}

// hostThreadPool is the concrete abi.HostContext-facing extension object
// handed back from GetExtension(abi.ExtThreadPool); it binds one plugin's
// PluginThreadPool to the shared Bridge plus the call-chain's current
// nesting depth.
type hostThreadPool struct {
	bridge *Bridge
	ctx    context.Context
	target PluginThreadPool
}

// RequestExec asks the host to invoke target.Exec once per index in
// [0, numTasks). Returns false if the nesting-depth budget is exhausted, in
// which case the plugin is expected to fall back to running the work
// serially on its own calling thread (the ABI's documented contract for a
// refused thread_pool request).
func (h *hostThreadPool) RequestExec(numTasks uint32) bool {
	if numTasks == 0 {
		return true
	}
	depth := depthFrom(h.ctx)
	if depth >= MaxNestingDepth {
		return false
	}
	if !h.bridge.sem.TryAcquire(1) {
		return false
	}
	defer h.bridge.sem.Release(1)

	n := numTasks
	identity := identityFrom(h.ctx)
	if identity.AudioThread && depth > 0 {
		// Already running as a job-pool worker one level down: halve the
		// fan-out rather than let nested batches multiply out the pool's
		// worker count (spec.md §4.H).
		n = n/2 + 1
	}

	childCtx := withDepth(h.ctx, depth+1)

	h.bridge.pool.SubmitBatch(int(n), func(taskCtx any, index int) {
		c, _ := taskCtx.(context.Context)
		h.target.Exec(c, uint32(index))
	}, childCtx)
	return true
}

// NewHostContext builds the abi.HostContext passed to a plugin instance at
// CreatePlugin time, binding this Bridge's thread_pool extension and a
// ThreadRegistry-backed thread_check extension to ctx's call chain.
func (br *Bridge) NewHostContext(ctx context.Context, registry *ThreadRegistry) abi.HostContext {
	return &bridgeHostContext{bridge: br, ctx: ctx, registry: registry}
}

type bridgeHostContext struct {
	bridge   *Bridge
	ctx      context.Context
	registry *ThreadRegistry
	target   PluginThreadPool
}

func (c *bridgeHostContext) RequestProcess()  {}
func (c *bridgeHostContext) RequestCallback() {}

// GetExtension answers the plugin's own host->plugin extension lookups.
// thread_pool is only meaningful once the plugin has told the host which
// PluginThreadPool to call back into, which happens out of band when the
// plugin registers itself via SetThreadPoolTarget below; until then a
// thread_pool lookup returns nil (unsupported).
func (c *bridgeHostContext) GetExtension(id string) any {
	switch id {
	case abi.ExtThreadCheck:
		return threadCheckView{registry: c.registry, ctx: c.ctx}
	case abi.ExtThreadPool:
		if c.target == nil {
			return nil
		}
		return &hostThreadPool{bridge: c.bridge, ctx: c.ctx, target: c.target}
	default:
		return nil
	}
}

// SetThreadPoolTarget lets a PluginHandle bind the plugin's own
// PluginThreadPool (obtained from negotiateExtensions) back onto the host
// context it was constructed with, completing the round trip: plugin asks
// host to fan out, host calls back into the very same plugin's Exec.
func (c *bridgeHostContext) SetThreadPoolTarget(tp PluginThreadPool) {
	c.target = tp
}

// threadCheckView is the host-side thread_check extension object.
type threadCheckView struct {
	registry *ThreadRegistry
	ctx      context.Context
}

func (v threadCheckView) IsMainThread() bool  { return v.registry.IsMainThread(v.ctx) }
func (v threadCheckView) IsAudioThread() bool { return v.registry.IsAudioThread(v.ctx) }
