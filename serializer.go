package fluxdaw

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fluxdaw/fluxdaw/pluginhost"
	"github.com/fluxdaw/fluxdaw/transport"
)

// PluginStateBlob is one track's instrument-plugin opaque state, captured
// via the plugin ABI's state extension (spec.md §6 "Persisted state").
// Format is opaque per-plugin; the host never interprets Data.
type PluginStateBlob struct {
	Track int    `json:"track"`
	Data  []byte `json:"data"`
}

// ProjectState is the complete serializable state of a Host: transport
// layout (tracks, clips, scenes) plus each track instrument's captured
// opaque state (effect plugins are not captured), generalized from a per-channel native-engine state
// snapshot (version/configuration/channels/connections/timestamp) to
// per-track transport/plugin state.
type ProjectState struct {
	Version      string                  `json:"version"`
	BPM          float64                 `json:"bpm"`
	Quantize     transport.QuantizeGrid  `json:"quantize"`
	Tracks       []TrackState            `json:"tracks"`
	PluginStates []PluginStateBlob       `json:"plugin_states"`
}

// TrackState is one track's non-audio-thread-owned configuration.
type TrackState struct {
	Name    string             `json:"name"`
	Volume  float32            `json:"volume"`
	Mute    bool               `json:"mute"`
	Solo    bool               `json:"solo"`
	Clips   []ClipState        `json:"clips"`
}

// ClipState is one scene cell's piano-roll content.
type ClipState struct {
	Scene       int             `json:"scene"`
	LengthBeats float64         `json:"length_beats"`
	Notes       []transport.Note `json:"notes"`
}

// Serializer implements spec.md §6's persisted-state interface:
// capture_state(plugin) -> bytes / restore_state(plugin, bytes), plus a
// project-level save/restore of the transport layout built on top of it.
type Serializer struct {
	host    *Host
	version string
}

// NewSerializer returns a Serializer bound to host.
func NewSerializer(host *Host) *Serializer {
	return &Serializer{host: host, version: "1.0.0"}
}

// CaptureState implements spec.md §6's capture_state(plugin) -> bytes: it
// resolves handle in the arena and asks its negotiated state extension to
// serialize, returning an error if the plugin never negotiated one.
func (s *Serializer) CaptureState(handle pluginhost.HandleID) ([]byte, error) {
	h, ok := s.host.Arena.Resolve(handle)
	if !ok {
		return nil, fmt.Errorf("fluxdaw: capture_state: handle not found")
	}
	ext := h.Extensions()
	if !ext.HasState() {
		return nil, fmt.Errorf("fluxdaw: capture_state: plugin did not negotiate the state extension")
	}
	return ext.SaveState()
}

// RestoreState implements spec.md §6's restore_state(plugin, bytes).
func (s *Serializer) RestoreState(handle pluginhost.HandleID, data []byte) error {
	h, ok := s.host.Arena.Resolve(handle)
	if !ok {
		return fmt.Errorf("fluxdaw: restore_state: handle not found")
	}
	ext := h.Extensions()
	if !ext.HasState() {
		return fmt.Errorf("fluxdaw: restore_state: plugin did not negotiate the state extension")
	}
	return ext.LoadState(data)
}

// GetState captures the full project: transport layout plus every track's
// instrument state (tracks whose instrument never negotiated the state
// extension are simply skipped, not an error — most synths may not).
func (s *Serializer) GetState() ProjectState {
	tr := s.host.Transport
	ps := ProjectState{Version: s.version, BPM: tr.BPM, Quantize: tr.Quantize}

	for t, track := range tr.Tracks {
		ts := TrackState{Name: track.Name, Volume: track.Volume, Mute: track.Mute, Solo: track.Solo}
		for scene := 0; scene < transport.SceneMax; scene++ {
			slot := tr.Clips[t][scene]
			if slot.Clip == nil {
				continue
			}
			ts.Clips = append(ts.Clips, ClipState{
				Scene:       scene,
				LengthBeats: slot.LengthBeats,
				Notes:       slot.Clip.Notes,
			})
		}
		ps.Tracks = append(ps.Tracks, ts)

		if data, err := s.CaptureState(track.Instrument); err == nil {
			ps.PluginStates = append(ps.PluginStates, PluginStateBlob{Track: t, Data: data})
		}
	}
	return ps
}

// SetState restores transport layout and plugin state from a previously
// captured ProjectState.
func (s *Serializer) SetState(ps ProjectState) error {
	if ps.Version != s.version {
		return fmt.Errorf("fluxdaw: incompatible project state version: got %s, want %s", ps.Version, s.version)
	}
	tr := s.host.Transport
	tr.BPM = ps.BPM
	tr.Quantize = ps.Quantize

	for t, ts := range ps.Tracks {
		if t >= transport.TrackMax {
			break
		}
		track := tr.Tracks[t]
		track.Name = ts.Name
		track.SetVolume(ts.Volume)
		track.Mute = ts.Mute
		track.Solo = ts.Solo
		for _, cs := range ts.Clips {
			if cs.Scene < 0 || cs.Scene >= transport.SceneMax {
				continue
			}
			clip := transport.NewPianoClip(cs.LengthBeats)
			for _, n := range cs.Notes {
				if err := clip.AddNote(n); err != nil {
					return fmt.Errorf("fluxdaw: restoring track %d scene %d: %w", t, cs.Scene, err)
				}
			}
			slot := tr.Clips[t][cs.Scene]
			slot.Clip = clip
			slot.LengthBeats = cs.LengthBeats
			slot.State = transport.SlotStopped
		}
	}

	for _, blob := range ps.PluginStates {
		if blob.Track < 0 || blob.Track >= transport.TrackMax {
			continue
		}
		handle := tr.Tracks[blob.Track].Instrument
		if err := s.RestoreState(handle, blob.Data); err != nil {
			s.host.errorHandler.HandleError(fmt.Errorf("fluxdaw: restoring track %d plugin state: %w", blob.Track, err))
		}
	}
	return nil
}

// SaveToWriter writes the project state as pretty-printed JSON.
func (s *Serializer) SaveToWriter(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.GetState())
}

// LoadFromReader restores project state from JSON.
func (s *Serializer) LoadFromReader(r io.Reader) error {
	var ps ProjectState
	if err := json.NewDecoder(r).Decode(&ps); err != nil {
		return fmt.Errorf("fluxdaw: decoding project state: %w", err)
	}
	return s.SetState(ps)
}
