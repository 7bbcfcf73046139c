package runner

import "github.com/programme-lv/testworker/api"

type selection struct {
	stats   api.Stats
	run     []*testCase
	skipped []*testCase
	todo    []*testCase
}

// selectTests applies match patterns and exclusivity. Match patterns take
// precedence over Only.
func (r *Runner) selectTests(tests []*testCase) (selection, error) {
	m, err := newMatcher(r.cfg.Match)
	if err != nil {
		return selection{}, err
	}

	var sel selection
	sel.stats.Declared = len(tests)
	sel.stats.FilteredByRun = !m.empty()
	for _, tc := range tests {
		if tc.mod == exclusive {
			sel.stats.HasExclusive = true
		}
	}
	onlyExclusive := m.empty() && (sel.stats.HasExclusive || r.cfg.RunOnlyExclusive)

	for _, tc := range tests {
		if !m.empty() && !m.match(tc.title) {
			continue
		}
		if onlyExclusive && tc.mod != exclusive {
			continue
		}
		switch tc.mod {
		case skipped:
			sel.skipped = append(sel.skipped, tc)
		case todo:
			sel.todo = append(sel.todo, tc)
		default:
			sel.run = append(sel.run, tc)
		}
	}
	sel.stats.Selected = len(sel.run)
	sel.stats.Skipped = len(sel.skipped)
	sel.stats.Todo = len(sel.todo)
	return sel, nil
}
