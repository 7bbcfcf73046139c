package behave

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/programme-lv/testworker/api"
)

// ErrorEntry is an error report the worker sent
type ErrorEntry struct {
	Type api.MsgType
	Err  api.SerializedError
}

// Summary is everything the parent observed during one worker run
type Summary struct {
	CaseID       string
	Messages     []api.MsgType
	Stats        *api.Stats
	Passed       []string
	Failed       []string
	Skipped      []string
	Todo         []string
	TouchedFiles []string
	Dependencies []string
	Errors       []ErrorEntry
	ExitCode     int
	Duration     time.Duration
}

// Builder gathers worker messages into a Summary
type Builder struct {
	caseID  string
	started time.Time
	s       Summary
}

func NewBuilder(caseID string) *Builder {
	return &Builder{
		caseID:  caseID,
		started: time.Now(),
		s:       Summary{CaseID: caseID},
	}
}

// Observe records one frame. It returns the frame's message type.
func (b *Builder) Observe(frame []byte) (api.MsgType, error) {
	var head api.Header
	if err := json.Unmarshal(frame, &head); err != nil {
		return "", fmt.Errorf("failed to decode worker frame: %w", err)
	}
	b.s.Messages = append(b.s.Messages, head.MsgType)

	switch head.MsgType {
	case api.StatsMsg, api.SelectedTestMsg, api.TestPassedMsg, api.TestFailedMsg,
		api.TestSkippedMsg, api.TestTodoMsg, api.InterruptMsg:
		var sc api.StateChange
		if err := json.Unmarshal(frame, &sc); err != nil {
			return head.MsgType, fmt.Errorf("failed to decode %s: %w", head.MsgType, err)
		}
		b.stateChange(sc)
	case api.TouchedFilesMsg:
		var m api.TouchedFiles
		if err := json.Unmarshal(frame, &m); err != nil {
			return head.MsgType, fmt.Errorf("failed to decode %s: %w", head.MsgType, err)
		}
		b.s.TouchedFiles = append(b.s.TouchedFiles, m.Files...)
	case api.DependenciesMsg:
		var m api.Dependencies
		if err := json.Unmarshal(frame, &m); err != nil {
			return head.MsgType, fmt.Errorf("failed to decode %s: %w", head.MsgType, err)
		}
		b.s.Dependencies = append(b.s.Dependencies, m.Dependencies...)
	case api.InternalErrorMsg, api.UncaughtExceptionMsg, api.UnhandledRejectionMsg:
		var m api.ErrorReport
		if err := json.Unmarshal(frame, &m); err != nil {
			return head.MsgType, fmt.Errorf("failed to decode %s: %w", head.MsgType, err)
		}
		b.s.Errors = append(b.s.Errors, ErrorEntry{Type: head.MsgType, Err: m.Err})
	}
	return head.MsgType, nil
}

func (b *Builder) stateChange(sc api.StateChange) {
	switch sc.MsgType {
	case api.StatsMsg:
		b.s.Stats = sc.Stats
	case api.TestPassedMsg:
		b.s.Passed = append(b.s.Passed, sc.Title)
	case api.TestFailedMsg:
		b.s.Failed = append(b.s.Failed, sc.Title)
	case api.TestSkippedMsg:
		b.s.Skipped = append(b.s.Skipped, sc.Title)
	case api.TestTodoMsg:
		b.s.Todo = append(b.s.Todo, sc.Title)
	}
}

// Finish stamps the exit code and returns the summary
func (b *Builder) Finish(exitCode int) Summary {
	b.s.ExitCode = exitCode
	b.s.Duration = time.Since(b.started)
	return b.s
}

// Check compares s with the expectations of c. It returns one line per
// mismatch.
func (c Case) Check(s Summary) []string {
	var res []string
	e := c.Expect
	if s.ExitCode != e.ExitCode {
		res = append(res, fmt.Sprintf("exit code %d, expected %d", s.ExitCode, e.ExitCode))
	}
	got := make([]string, len(s.Messages))
	for i, m := range s.Messages {
		got[i] = string(m)
	}
	if e.Messages != nil && !slices.Equal(got, e.Messages) {
		res = append(res, fmt.Sprintf("messages %v, expected %v", got, e.Messages))
	}
	for _, want := range e.Contains {
		if !slices.Contains(got, want) {
			res = append(res, fmt.Sprintf("missing message %s", want))
		}
	}
	for _, unwanted := range e.Absent {
		if slices.Contains(got, unwanted) {
			res = append(res, fmt.Sprintf("unexpected message %s", unwanted))
		}
	}
	if e.Passed != nil && !sameSet(s.Passed, e.Passed) {
		res = append(res, fmt.Sprintf("passed %v, expected %v", s.Passed, e.Passed))
	}
	if e.Failed != nil && !sameSet(s.Failed, e.Failed) {
		res = append(res, fmt.Sprintf("failed %v, expected %v", s.Failed, e.Failed))
	}
	return res
}

// sameSet ignores order, concurrent tests finish in any order
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
