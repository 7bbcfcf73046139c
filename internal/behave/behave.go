package behave

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/testworker/api"
)

// SpecOptions is the RunOptions block of a scenario
type SpecOptions struct {
	File                  string   `toml:"file"`
	Match                 []string `toml:"match"`
	Serial                bool     `toml:"serial"`
	FailFast              bool     `toml:"fail_fast"`
	FailWithoutAssertions bool     `toml:"fail_without_assertions"`
	RunOnlyExclusive      bool     `toml:"run_only_exclusive"`
	UpdateSnapshots       bool     `toml:"update_snapshots"`
	RecordNewSnapshots    bool     `toml:"record_new_snapshots"`
	SnapshotDir           string   `toml:"snapshot_dir"`
	Require               []string `toml:"require"`
	Transform             string   `toml:"transform"`
	TransformConfig       string   `toml:"transform_config"`
}

// SpecExpect lists what the parent should observe. Unset lists are not
// checked.
type SpecExpect struct {
	ExitCode int      `toml:"exit_code"`
	Messages []string `toml:"messages"`
	Contains []string `toml:"contains"`
	Absent   []string `toml:"absent"`
	Passed   []string `toml:"passed"`
	Failed   []string `toml:"failed"`
}

type specScenario struct {
	Description string      `toml:"description"`
	Options     SpecOptions `toml:"options"`
	// PeerFailedAfter sends peer-failed once a message of this type arrived
	PeerFailedAfter string     `toml:"peer_failed_after"`
	Expect          SpecExpect `toml:"expect"`
}

type specRoot struct {
	Scenarios []specScenario `toml:"scenarios"`
}

// Case is a runnable scenario converted from TOML
type Case struct {
	ID              string
	Name            string
	Options         api.RunOptions
	PeerFailedAfter api.MsgType
	Expect          SpecExpect
}

// Parse reads a behaviour TOML file
func Parse(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	return ParseBytes(data)
}

func ParseBytes(data []byte) ([]Case, error) {
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cases := make([]Case, 0, len(root.Scenarios))
	for i, sc := range root.Scenarios {
		if sc.Options.File == "" {
			return nil, fmt.Errorf("scenario %d (%q) does not name a file", i, sc.Description)
		}
		opts := api.RunOptions{
			File:                  sc.Options.File,
			Match:                 sc.Options.Match,
			Serial:                sc.Options.Serial,
			FailFast:              sc.Options.FailFast,
			FailWithoutAssertions: sc.Options.FailWithoutAssertions,
			RunOnlyExclusive:      sc.Options.RunOnlyExclusive,
			UpdateSnapshots:       sc.Options.UpdateSnapshots,
			RecordNewSnapshots:    sc.Options.RecordNewSnapshots,
			SnapshotDir:           sc.Options.SnapshotDir,
			Require:               sc.Options.Require,
		}
		if sc.Options.Transform != "" {
			ts := &api.TransformState{Name: sc.Options.Transform}
			if sc.Options.TransformConfig != "" {
				if !json.Valid([]byte(sc.Options.TransformConfig)) {
					return nil, fmt.Errorf("scenario %q: transform_config is not valid JSON", sc.Description)
				}
				ts.Config = json.RawMessage(sc.Options.TransformConfig)
			}
			opts.TransformState = ts
		}

		name := sc.Description
		if name == "" {
			name = fmt.Sprintf("scenario %d", i+1)
		}
		cases = append(cases, Case{
			ID:              uuid.NewString(),
			Name:            name,
			Options:         opts,
			PeerFailedAfter: api.MsgType(sc.PeerFailedAfter),
			Expect:          sc.Expect,
		})
	}
	return cases, nil
}
