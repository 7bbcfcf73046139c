package api

// State change types emitted by the runner and relayed verbatim
const (
	StatsMsg        MsgType = "stats"
	SelectedTestMsg MsgType = "selected-test"
	TestPassedMsg   MsgType = "test-passed"
	TestFailedMsg   MsgType = "test-failed"
	TestSkippedMsg  MsgType = "test-skipped"
	TestTodoMsg     MsgType = "test-todo"
	InterruptMsg    MsgType = "interrupt"
)

// StateChange is a test lifecycle event
type StateChange struct {
	Header
	Title      string           `json:"title,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Err        *SerializedError `json:"err,omitempty"`
	Stats      *Stats           `json:"stats,omitempty"`
}

// Stats is sent once, before the first selected test
type Stats struct {
	Declared      int  `json:"declared"`
	Selected      int  `json:"selected"`
	Skipped       int  `json:"skipped"`
	Todo          int  `json:"todo"`
	HasExclusive  bool `json:"has_exclusive"`
	FilteredByRun bool `json:"filtered_by_match"`
}

func NewStats(stats Stats) StateChange {
	return StateChange{
		Header: NewHeader(StatsMsg),
		Stats:  &stats,
	}
}

func NewSelectedTest(title string) StateChange {
	return StateChange{
		Header: NewHeader(SelectedTestMsg),
		Title:  title,
	}
}

func NewTestPassed(title string, durationMs int64) StateChange {
	return StateChange{
		Header:     NewHeader(TestPassedMsg),
		Title:      title,
		DurationMs: durationMs,
	}
}

func NewTestFailed(title string, durationMs int64, err error) StateChange {
	serr := SerializeError("Test failure", true, err)
	return StateChange{
		Header:     NewHeader(TestFailedMsg),
		Title:      title,
		DurationMs: durationMs,
		Err:        &serr,
	}
}

func NewTestSkipped(title string) StateChange {
	return StateChange{
		Header: NewHeader(TestSkippedMsg),
		Title:  title,
	}
}

func NewTestTodo(title string) StateChange {
	return StateChange{
		Header: NewHeader(TestTodoMsg),
		Title:  title,
	}
}

func NewInterrupt() StateChange {
	return StateChange{Header: NewHeader(InterruptMsg)}
}
