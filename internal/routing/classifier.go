package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
)

// Classifier decides whether a piece of text belongs to a category
type Classifier interface {
	Matches(text string) bool
}

// RegexClassifier matches when any of its patterns is found in the text,
// case-insensitively
type RegexClassifier struct {
	patterns []*regexp.Regexp
}

// NewRegexClassifier compiles the given patterns. The first invalid pattern
// is reported as an error.
func NewRegexClassifier(sources []string) (*RegexClassifier, error) {
	c := &RegexClassifier{patterns: make([]*regexp.Regexp, 0, len(sources))}
	for _, src := range sources {
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", src, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// lenientClassifier compiles what it can and logs the rest. Used for stored
// user patterns, which may predate validation.
func lenientClassifier(sources []string) *RegexClassifier {
	c := &RegexClassifier{patterns: make([]*regexp.Regexp, 0, len(sources))}
	for _, src := range sources {
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			logger.Warn("skipping invalid routing pattern", "pattern", src, "error", err)
			continue
		}
		c.patterns = append(c.patterns, re)
	}
	return c
}

// Matches reports whether any pattern is found in the trimmed text
func (c *RegexClassifier) Matches(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, re := range c.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Len returns the number of compiled patterns
func (c *RegexClassifier) Len() int {
	return len(c.patterns)
}
