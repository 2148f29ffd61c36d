package pluginhost

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/fluxdaw/fluxdaw/abi"
	"github.com/fluxdaw/fluxdaw/jobpool"
)

type fakeThreadPoolTarget struct {
	execs   atomic.Int32
	deepest atomic.Int32
}

func (t *fakeThreadPoolTarget) Exec(ctx context.Context, taskIndex uint32) {
	t.execs.Add(1)
	d := int32(depthFrom(ctx))
	for {
		cur := t.deepest.Load()
		if d <= cur || t.deepest.CompareAndSwap(cur, d) {
			return
		}
	}
}

func TestNegotiateExtensionsFindsThreadPool(t *testing.T) {
	tp := &fakeThreadPoolTarget{}
	p := &fakePlugin{processStatus: abi.ProcessContinue, threadPool: tp}
	set := negotiateExtensions(p)
	if !set.HasThreadPool() {
		t.Fatal("expected thread_pool to be negotiated")
	}
	if set.HasState() {
		t.Fatal("state was not offered by the fake plugin")
	}
}

func TestBridgeRequestExecRunsEveryTask(t *testing.T) {
	pool := jobpool.New(4)
	defer pool.Close()
	bridge := NewBridge(pool)

	tp := &fakeThreadPoolTarget{}
	host := &hostThreadPool{bridge: bridge, ctx: context.Background(), target: tp}

	if !host.RequestExec(10) {
		t.Fatal("RequestExec should succeed at depth 0")
	}
	if tp.execs.Load() != 10 {
		t.Fatalf("execs = %d, want 10", tp.execs.Load())
	}
	if tp.deepest.Load() != 1 {
		t.Fatalf("Exec observed depth %d, want 1 (the incremented childCtx)", tp.deepest.Load())
	}
}

func TestBridgeRequestExecThreadsChildCtxIntoExec(t *testing.T) {
	pool := jobpool.New(4)
	defer pool.Close()
	bridge := NewBridge(pool)

	tp := &fakeThreadPoolTarget{}
	ctx := withDepth(context.Background(), 1)
	host := &hostThreadPool{bridge: bridge, ctx: ctx, target: tp}

	if !host.RequestExec(5) {
		t.Fatal("RequestExec should succeed at depth 1")
	}
	if got := tp.deepest.Load(); got != 2 {
		t.Fatalf("Exec observed depth %d, want 2 (one more than the calling depth)", got)
	}
}

func TestBridgeRequestExecHalvesWhenNestedOnAudioThread(t *testing.T) {
	pool := jobpool.New(4)
	defer pool.Close()
	bridge := NewBridge(pool)

	tp := &fakeThreadPoolTarget{}
	ctx := WithThreadIdentity(context.Background(), ThreadIdentity{AudioThread: true})
	ctx = withDepth(ctx, 1)
	host := &hostThreadPool{bridge: bridge, ctx: ctx, target: tp}

	if !host.RequestExec(10) {
		t.Fatal("RequestExec should succeed at depth 1")
	}
	if got := tp.execs.Load(); got != 6 {
		t.Fatalf("execs = %d, want 6 (10/2+1 halved fan-out)", got)
	}
}

func TestBridgeRequestExecRefusesBeyondMaxDepth(t *testing.T) {
	pool := jobpool.New(2)
	defer pool.Close()
	bridge := NewBridge(pool)

	tp := &fakeThreadPoolTarget{}
	ctx := withDepth(context.Background(), MaxNestingDepth)
	host := &hostThreadPool{bridge: bridge, ctx: ctx, target: tp}

	if host.RequestExec(4) {
		t.Fatal("RequestExec should refuse once MaxNestingDepth is reached")
	}
	if tp.execs.Load() != 0 {
		t.Fatal("a refused RequestExec must not run any task")
	}
}

func TestThreadRegistryAnswersFromContext(t *testing.T) {
	reg := NewThreadRegistry()
	bg := context.Background()
	if reg.IsMainThread(bg) || reg.IsAudioThread(bg) {
		t.Fatal("an untagged context must not claim any thread role")
	}
	main := WithThreadIdentity(bg, ThreadIdentity{MainThread: true})
	if !reg.IsMainThread(main) || reg.IsAudioThread(main) {
		t.Fatal("main-tagged context answered incorrectly")
	}
	audio := WithThreadIdentity(bg, ThreadIdentity{AudioThread: true})
	if reg.IsMainThread(audio) || !reg.IsAudioThread(audio) {
		t.Fatal("audio-tagged context answered incorrectly")
	}
}
