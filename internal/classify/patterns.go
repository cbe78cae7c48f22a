package classify

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	wordRun  = `[\p{L}\p{N}_]*`
	wordChar = `[\p{L}\p{N}_]`

	// DefaultPatternCacheSize bounds the compiled pattern cache.
	DefaultPatternCacheSize = 1024
)

// PatternCache compiles wildcard patterns once and keeps the most recently
// used ones.
type PatternCache struct {
	compiled *lru.Cache[string, *regexp.Regexp]
}

// NewPatternCache builds a cache holding up to size compiled patterns.
func NewPatternCache(size int) *PatternCache {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	cache, _ := lru.New[string, *regexp.Regexp](size)
	return &PatternCache{compiled: cache}
}

// Compile returns the regexp for a wildcard pattern. The match is anchored at
// a word boundary on the left only and is case-insensitive; the matched text
// is capture group 1.
func (c *PatternCache) Compile(pattern string) (*regexp.Regexp, error) {
	key := strings.ToLower(strings.TrimSpace(pattern))
	if key == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	if re, ok := c.compiled.Get(key); ok {
		return re, nil
	}

	re, err := regexp.Compile(wildcardExpr(key))
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	c.compiled.Add(key, re)
	return re, nil
}

// Len reports the number of cached patterns.
func (c *PatternCache) Len() int {
	return c.compiled.Len()
}

func wildcardExpr(pattern string) string {
	var b strings.Builder
	b.WriteString(`(?i)(?:^|[^\p{L}\p{N}_])(`)
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(wordRun)
		case '?':
			b.WriteString(wordChar)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`)`)
	return b.String()
}
