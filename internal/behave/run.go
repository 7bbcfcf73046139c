package behave

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/programme-lv/testworker/api"
)

// Runner spawns the worker binary over stdio and plays the parent
type Runner struct {
	WorkerPath string
	// Env is appended to the current environment
	Env     []string
	Timeout time.Duration
}

// Run executes c in a fresh project directory and returns what the parent
// saw. stderr of the worker is returned for diagnostics.
func (r *Runner) Run(ctx context.Context, c Case) (Summary, string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	projectDir, err := os.MkdirTemp("", "testworker-"+c.ID+"-")
	if err != nil {
		return Summary{}, "", fmt.Errorf("failed to create project dir: %w", err)
	}
	defer os.RemoveAll(projectDir)

	opts := c.Options.Clone()
	if opts.ProjectDir == "" {
		opts.ProjectDir = projectDir
	}

	cmd := exec.CommandContext(ctx, r.WorkerPath, "--transport=stdio", "--worker-id="+c.ID)
	cmd.Env = append(os.Environ(), r.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Summary{}, "", fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Summary{}, "", fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return Summary{}, "", fmt.Errorf("failed to start worker: %w", err)
	}

	b := NewBuilder(c.ID)
	readErr := r.converse(stdout, stdin, b, opts, c.PeerFailedAfter)

	waitErr := cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		code = exitErr.ExitCode()
	default:
		return Summary{}, stderr.String(), fmt.Errorf("failed to wait for worker: %w", waitErr)
	}
	if readErr != nil {
		return Summary{}, stderr.String(), readErr
	}
	return b.Finish(code), stderr.String(), nil
}

// converse reads worker frames until stdout closes, answering the
// handshake and injecting peer failure when asked to.
func (r *Runner) converse(stdout io.Reader, stdin io.Writer, b *Builder, opts api.RunOptions, peerFailedAfter api.MsgType) error {
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	peerSent := false
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		msgType, err := b.Observe(line)
		if err != nil {
			return err
		}
		switch {
		case msgType == api.ReadyForOptionsMsg:
			if err := writeFrame(stdin, api.NewOptions(opts)); err != nil {
				return err
			}
		case !peerSent && peerFailedAfter != "" && msgType == peerFailedAfter:
			peerSent = true
			if err := writeFrame(stdin, api.NewPeerFailed()); err != nil {
				return err
			}
		}
	}
	return sc.Err()
}

func writeFrame(w io.Writer, msg api.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msg.Type(), err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type(), err)
	}
	return nil
}
