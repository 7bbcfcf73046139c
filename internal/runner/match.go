package runner

import (
	"fmt"
	"regexp"
	"strings"
)

// matcher selects titles by wildcard patterns. A pattern starting with !
// excludes; '*' matches any run of characters. Matching ignores case.
type matcher struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

func newMatcher(patterns []string) (*matcher, error) {
	m := &matcher{}
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		if negated {
			p = p[1:]
		}
		quoted := strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, ".*")
		re, err := regexp.Compile("(?is)^" + quoted + "$")
		if err != nil {
			return nil, fmt.Errorf("invalid match pattern %q: %w", p, err)
		}
		if negated {
			m.exclude = append(m.exclude, re)
		} else {
			m.include = append(m.include, re)
		}
	}
	return m, nil
}

func (m *matcher) empty() bool {
	return len(m.include) == 0 && len(m.exclude) == 0
}

func (m *matcher) match(title string) bool {
	for _, re := range m.exclude {
		if re.MatchString(title) {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, re := range m.include {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}
