package behave

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Reporter prints scenario outcomes to a terminal
type Reporter struct {
	mu        sync.Mutex
	out       io.Writer
	startedAt time.Time
	passed    int
	failed    int

	ok   func(a ...any) string
	bad  func(a ...any) string
	dim  func(a ...any) string
	bold func(a ...any) string
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{
		out:       out,
		startedAt: time.Now(),
		ok:        color.New(color.FgHiGreen).SprintFunc(),
		bad:       color.New(color.FgHiRed).SprintFunc(),
		dim:       color.New(color.Faint).SprintFunc(),
		bold:      color.New(color.Bold).SprintFunc(),
	}
}

func (r *Reporter) Start(total int, worker string) {
	fmt.Fprintf(r.out, "%s %d scenarios against %s\n", r.bold("=="), total, worker)
}

// Result reports one scenario. problems are the Check mismatches, runErr a
// failure to drive the worker at all.
func (r *Reporter) Result(c Case, s Summary, problems []string, runErr error, stderr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if runErr == nil && len(problems) == 0 {
		r.passed++
		fmt.Fprintf(r.out, "%s %s %s\n", r.ok("PASS"), c.Name,
			r.dim(fmt.Sprintf("(%s)", s.Duration.Round(time.Millisecond))))
		return
	}

	r.failed++
	fmt.Fprintf(r.out, "%s %s\n", r.bad("FAIL"), c.Name)
	if runErr != nil {
		fmt.Fprintf(r.out, "  %v\n", runErr)
	}
	for _, p := range problems {
		fmt.Fprintf(r.out, "  %s\n", p)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(r.out, "  %s: %s: %s\n", e.Type, e.Err.Name, e.Err.Message)
	}
	if stderr = strings.TrimSpace(stderr); stderr != "" {
		fmt.Fprintf(r.out, "  %s\n", r.dim("worker stderr:"))
		for _, line := range strings.Split(stderr, "\n") {
			fmt.Fprintf(r.out, "    %s\n", r.dim(line))
		}
	}
}

// Finish prints the totals and reports whether every scenario passed
func (r *Reporter) Finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dur := time.Since(r.startedAt).Round(time.Millisecond)
	status := r.ok("ok")
	if r.failed > 0 {
		status = r.bad("failed")
	}
	fmt.Fprintf(r.out, "%s %s: %d passed, %d failed in %s\n", r.bold("=="), status, r.passed, r.failed, dur)
	return r.failed == 0
}
