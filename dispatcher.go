package fluxdaw

import (
	"fmt"
	"sync"
	"time"

	"github.com/fluxdaw/fluxdaw/pluginhost"
	"github.com/fluxdaw/fluxdaw/transport"
)

// OperationType identifies a serialized topology-changing control-API
// call (spec.md §6): one buffered channel serializes everything that
// would otherwise race against the audio thread reading h.Transport/
// h.Arena through a snapshot.
type OperationType string

const (
	OpLaunchScene      OperationType = "launch_scene"
	OpStopAll          OperationType = "stop_all"
	OpRecordArm        OperationType = "record_arm"
	OpBufferSizeChange OperationType = "buffer_size_change"
	OpLoadPlugin       OperationType = "load_plugin"
	OpUnloadPlugin     OperationType = "unload_plugin"
)

// DispatcherOperation is one queued control-API call.
type DispatcherOperation struct {
	Type     OperationType
	Data     interface{}
	Response chan DispatcherResult
}

// DispatcherResult is what executeOperation sends back once an operation
// completes: every control-API caller here wants the same
// success/data/error triple.
type DispatcherResult struct {
	Success bool
	Data    interface{}
	Error   error
}

// Dispatcher serializes topology-changing calls against a Host so two UI
// threads never race a scene launch against a plugin load.
type Dispatcher struct {
	host *Host

	mu         sync.RWMutex
	isRunning  bool
	operations chan DispatcherOperation
	stopChan   chan struct{}

	performanceMu         sync.RWMutex
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
}

// NewDispatcher returns a Dispatcher bound to host, targeting a
// sub-300ms serialized-operation budget for topology changes.
func NewDispatcher(host *Host) *Dispatcher {
	return &Dispatcher{
		host:       host,
		operations: make(chan DispatcherOperation, 100),
		stopChan:   make(chan struct{}),
	}
}

func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isRunning {
		return fmt.Errorf("fluxdaw: dispatcher already running")
	}
	d.isRunning = true
	go d.dispatchLoop()
	return nil
}

func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isRunning {
		return nil
	}
	close(d.stopChan)
	d.isRunning = false
	return nil
}

func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns the most recent and worst-ever operation
// durations, surfaced for a UI that wants to flag a slow topology change.
func (d *Dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.performanceMu.RLock()
	defer d.performanceMu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

func (d *Dispatcher) dispatchLoop() {
	for {
		select {
		case <-d.stopChan:
			return
		case op := <-d.operations:
			start := time.Now()
			result := d.executeOperation(op)
			duration := time.Since(start)

			d.performanceMu.Lock()
			d.lastOperationDuration = duration
			if duration > d.maxOperationDuration {
				d.maxOperationDuration = duration
			}
			d.performanceMu.Unlock()

			if duration > 300*time.Millisecond {
				d.host.errorHandler.HandleError(fmt.Errorf("fluxdaw: topology change took %v, target is sub-300ms", duration))
			}

			op.Response <- result
		}
	}
}

func (d *Dispatcher) submit(opType OperationType, data interface{}) DispatcherResult {
	response := make(chan DispatcherResult, 1)
	d.operations <- DispatcherOperation{Type: opType, Data: data, Response: response}
	return <-response
}

func (d *Dispatcher) executeOperation(op DispatcherOperation) DispatcherResult {
	switch op.Type {
	case OpLaunchScene:
		scene := op.Data.(int)
		err := d.host.Transport.LaunchScene(scene)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpStopAll:
		d.host.Transport.StopAll()
		return DispatcherResult{Success: true}

	case OpRecordArm:
		data := op.Data.(recordArmData)
		err := d.host.Transport.RecordArm(data.Track, data.Scene, data.LengthBeats)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpBufferSizeChange:
		newMaxFrames := op.Data.(uint32)
		err := d.changeBufferSize(newMaxFrames)
		return DispatcherResult{Success: err == nil, Error: err}

	case OpLoadPlugin:
		data := op.Data.(loadPluginData)
		id, err := d.loadPlugin(data)
		return DispatcherResult{Success: err == nil, Data: id, Error: err}

	case OpUnloadPlugin:
		handle := op.Data.(pluginhost.HandleID)
		err := d.host.Arena.Free(handle)
		return DispatcherResult{Success: err == nil, Error: err}

	default:
		return DispatcherResult{Success: false, Error: fmt.Errorf("fluxdaw: unknown operation type: %s", op.Type)}
	}
}

// loadPlugin opens the plugin binary in the host's Arena, drives it through
// the init -> activate -> start_processing sequence spec.md §4.D requires
// before any Process call can succeed, and — if the caller asked for a
// track assignment — wires the resulting handle onto that track's live
// Instrument reference. A failure at any step frees the handle rather than
// leaving a partially-activated plugin behind.
func (d *Dispatcher) loadPlugin(data loadPluginData) (pluginhost.HandleID, error) {
	id, err := d.host.Arena.Load(data.Path, data.PluginID)
	if err != nil {
		return pluginhost.NoHandle, fmt.Errorf("%w: %v", ErrPluginLoadFailed, err)
	}

	handle, ok := d.host.Arena.Resolve(id)
	if !ok {
		return pluginhost.NoHandle, fmt.Errorf("%w: handle vanished immediately after load", ErrPluginLoadFailed)
	}
	if err := handle.Activate(d.host.sampleRate, 1, d.host.maxFrames); err != nil {
		_ = d.host.Arena.Free(id)
		return pluginhost.NoHandle, fmt.Errorf("%w: activate: %v", ErrPluginLoadFailed, err)
	}
	if err := handle.StartProcessing(); err != nil {
		_ = d.host.Arena.Free(id)
		return pluginhost.NoHandle, fmt.Errorf("%w: start_processing: %v", ErrPluginLoadFailed, err)
	}

	if data.Track >= 0 {
		if data.Track >= transport.TrackMax {
			_ = d.host.Arena.Free(id)
			return pluginhost.NoHandle, fmt.Errorf("%w: track %d out of range", ErrPluginLoadFailed, data.Track)
		}
		d.host.Transport.Tracks[data.Track].SetInstrument(id)
	}
	return id, nil
}

// changeBufferSize implements spec.md §4.F's full buffer-size change
// sequence: every loaded plugin is stopped and deactivated before the graph
// is resized, then reactivated at the new block size once the resize
// succeeds. A plugin that fails to stop/deactivate is reported through the
// host's ErrorHandler but does not abort the sequence — a wedged plugin
// must not prevent every other track from getting the new buffer size.
func (d *Dispatcher) changeBufferSize(newMaxFrames uint32) error {
	handles := d.host.loadedHandles()

	for _, id := range handles {
		h, ok := d.host.Arena.Resolve(id)
		if !ok {
			continue
		}
		if err := h.StopProcessing(); err != nil {
			d.host.errorHandler.HandleError(fmt.Errorf("fluxdaw: buffer size change: stop_processing: %w", err))
		}
		if err := h.Deactivate(); err != nil {
			d.host.errorHandler.HandleError(fmt.Errorf("fluxdaw: buffer size change: deactivate: %w", err))
		}
	}

	if err := d.host.Engine.SetBufferSize(newMaxFrames); err != nil {
		return err
	}
	d.host.maxFrames = newMaxFrames

	for _, id := range handles {
		h, ok := d.host.Arena.Resolve(id)
		if !ok {
			continue
		}
		if err := h.Activate(d.host.sampleRate, 1, newMaxFrames); err != nil {
			d.host.errorHandler.HandleError(fmt.Errorf("fluxdaw: buffer size change: reactivate: %w", err))
			continue
		}
		if err := h.StartProcessing(); err != nil {
			d.host.errorHandler.HandleError(fmt.Errorf("fluxdaw: buffer size change: restart_processing: %w", err))
		}
	}
	return nil
}

type recordArmData struct {
	Track, Scene int
	LengthBeats  float64
}

// loadPluginData carries an OpLoadPlugin call's arguments; Track is the
// track index to assign the loaded plugin onto as its live instrument, or
// -1 to load the plugin without assigning it anywhere (e.g. loading an
// effect for a later AddEffect call).
type loadPluginData struct {
	Path, PluginID string
	Track          int
}

// LaunchScene queues a scene-launch control-API call (spec.md §4.G).
func (d *Dispatcher) LaunchScene(scene int) error {
	return d.submit(OpLaunchScene, scene).Error
}

// StopAll queues a stop-all control-API call.
func (d *Dispatcher) StopAll() error {
	return d.submit(OpStopAll, nil).Error
}

// RecordArm queues a record-arm control-API call.
func (d *Dispatcher) RecordArm(track, scene int, lengthBeats float64) error {
	return d.submit(OpRecordArm, recordArmData{Track: track, Scene: scene, LengthBeats: lengthBeats}).Error
}

// ChangeBufferSize queues a buffer-size change; the engine waits for the
// in-flight block to finish before swapping max_frames (spec.md §4.F).
func (d *Dispatcher) ChangeBufferSize(newMaxFrames uint32) error {
	return d.submit(OpBufferSizeChange, newMaxFrames).Error
}

// LoadPlugin queues loading a plugin into the host's Arena without
// assigning it to any track (e.g. for an effect slot wired in later via
// AddEffect). The returned handle is fully activated and processing-started
// (spec.md §4.D) by the time this call returns.
func (d *Dispatcher) LoadPlugin(path, pluginID string) (pluginhost.HandleID, error) {
	return d.loadPluginOp(loadPluginData{Path: path, PluginID: pluginID, Track: -1})
}

// LoadInstrument queues loading a plugin and assigning it as track's live
// Instrument reference, completing the load -> activate -> start_processing
// -> assign sequence spec.md §4.D and §4.G require in one control-API call.
func (d *Dispatcher) LoadInstrument(track int, path, pluginID string) (pluginhost.HandleID, error) {
	return d.loadPluginOp(loadPluginData{Path: path, PluginID: pluginID, Track: track})
}

func (d *Dispatcher) loadPluginOp(data loadPluginData) (pluginhost.HandleID, error) {
	result := d.submit(OpLoadPlugin, data)
	if !result.Success {
		return pluginhost.NoHandle, result.Error
	}
	return result.Data.(pluginhost.HandleID), nil
}

// UnloadPlugin queues freeing a previously loaded plugin handle.
func (d *Dispatcher) UnloadPlugin(handle pluginhost.HandleID) error {
	return d.submit(OpUnloadPlugin, handle).Error
}
