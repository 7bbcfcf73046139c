package api

import (
	"encoding/json"
	"fmt"
)

// RunOptions is the configuration delivered once by the parent
type RunOptions struct {
	File       string `json:"file"`
	ProjectDir string `json:"project_dir"`

	Match []string `json:"match"`

	SnapshotDir        string `json:"snapshot_dir"`
	UpdateSnapshots    bool   `json:"update_snapshots"`
	RecordNewSnapshots bool   `json:"record_new_snapshots"`

	Serial           bool `json:"serial"`
	RunOnlyExclusive bool `json:"run_only_exclusive"`

	FailFast              bool `json:"fail_fast"`
	FailWithoutAssertions bool `json:"fail_without_assertions"`

	Debug *DebugOptions `json:"debug"`

	// TransformState selects and configures a registered source transform
	TransformState *TransformState `json:"transform_state"`

	// Require lists modules evaluated before the test file
	Require []string `json:"require"`
}

// DebugOptions requests a debugger attach
type DebugOptions struct {
	Port  int  `json:"port"`
	Break bool `json:"break"`
}

// TransformState names a source transform and carries its opaque config
type TransformState struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Options is the inbound envelope carrying RunOptions
type Options struct {
	Header
	Options RunOptions `json:"options"`
}

// PeerFailed is the inbound abort signal
type PeerFailed struct {
	Header
}

func NewOptions(opts RunOptions) Options {
	return Options{
		Header:  NewHeader(OptionsMsg),
		Options: opts.Clone(),
	}
}

func NewPeerFailed() PeerFailed {
	return PeerFailed{Header: NewHeader(PeerFailedMsg)}
}

// Validate checks the fields the worker cannot start without
func (o RunOptions) Validate() error {
	if o.File == "" {
		return fmt.Errorf("options do not name a test file")
	}
	if o.Debug != nil && (o.Debug.Port <= 0 || o.Debug.Port > 65535) {
		return fmt.Errorf("invalid debug port: %d", o.Debug.Port)
	}
	return nil
}

// Clone returns a deep copy so that downstream code cannot reach back
// into the handshake value.
func (o RunOptions) Clone() RunOptions {
	res := o
	res.Match = append([]string(nil), o.Match...)
	res.Require = append([]string(nil), o.Require...)
	if o.Debug != nil {
		d := *o.Debug
		res.Debug = &d
	}
	if o.TransformState != nil {
		ts := *o.TransformState
		ts.Config = append(json.RawMessage(nil), o.TransformState.Config...)
		res.TransformState = &ts
	}
	return res
}
