package api

// MsgType is the tag of every message exchanged with the parent process
type MsgType string

// Outbound message types sent by the worker
const (
	ReadyForOptionsMsg    MsgType = "ready-for-options"
	TouchedFilesMsg       MsgType = "touched-files"
	DependenciesMsg       MsgType = "dependencies"
	InternalErrorMsg      MsgType = "internal-error"
	UncaughtExceptionMsg  MsgType = "uncaught-exception"
	UnhandledRejectionMsg MsgType = "unhandled-rejection"
	MissingImportMsg      MsgType = "missing-ava-import"
)

// Inbound message types sent by the parent
const (
	OptionsMsg    MsgType = "options"
	PeerFailedMsg MsgType = "peer-failed"
)

// Message is any value that can travel over the channel.
// Values are never mutated after construction.
type Message interface {
	Type() MsgType
}

// Header is the common header of all messages
type Header struct {
	MsgType MsgType `json:"type"`
}

// Type implements Message.
func (h Header) Type() MsgType {
	return h.MsgType
}

func NewHeader(msgType MsgType) Header {
	return Header{MsgType: msgType}
}

// ReadyForOptions announces that the worker waits for its configuration
type ReadyForOptions struct {
	Header
}

// TouchedFiles lists snapshot files written or updated during the run
type TouchedFiles struct {
	Header
	Files []string `json:"files"`
}

// Dependencies lists source files the test file depended on
type Dependencies struct {
	Header
	Dependencies []string `json:"dependencies"`
}

// ErrorReport carries a serialized fault.
// Used for internal-error, uncaught-exception and unhandled-rejection.
type ErrorReport struct {
	Header
	Err SerializedError `json:"err"`
}

// MissingImport reports that the test file never retrieved the runner
type MissingImport struct {
	Header
}

func NewReadyForOptions() ReadyForOptions {
	return ReadyForOptions{Header: NewHeader(ReadyForOptionsMsg)}
}

func NewTouchedFiles(files []string) TouchedFiles {
	cp := make([]string, len(files))
	copy(cp, files)
	return TouchedFiles{
		Header: NewHeader(TouchedFilesMsg),
		Files:  cp,
	}
}

func NewDependencies(deps []string) Dependencies {
	cp := make([]string, len(deps))
	copy(cp, deps)
	return Dependencies{
		Header:       NewHeader(DependenciesMsg),
		Dependencies: cp,
	}
}

func NewInternalError(err error) ErrorReport {
	return ErrorReport{
		Header: NewHeader(InternalErrorMsg),
		Err:    SerializeError("Internal runner error", false, err),
	}
}

func NewUncaughtException(err error) ErrorReport {
	return ErrorReport{
		Header: NewHeader(UncaughtExceptionMsg),
		Err:    SerializeError("Uncaught exception", true, err),
	}
}

func NewUnhandledRejection(err error) ErrorReport {
	return ErrorReport{
		Header: NewHeader(UnhandledRejectionMsg),
		Err:    SerializeError("Unhandled rejection", true, err),
	}
}

func NewMissingImport() MissingImport {
	return MissingImport{Header: NewHeader(MissingImportMsg)}
}
