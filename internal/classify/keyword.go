package classify

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// KeywordID is the provenance id recorded for keyword verdicts.
const KeywordID = "keyword-scorer"

// Keyword scores documents by counting wildcard pattern hits per tag.
type Keyword struct {
	patterns *PatternCache
	logger   *slog.Logger
}

var _ Classifier = (*Keyword)(nil)

// NewKeyword builds the keyword strategy over a shared pattern cache.
func NewKeyword(patterns *PatternCache, logger *slog.Logger) *Keyword {
	if patterns == nil {
		patterns = NewPatternCache(DefaultPatternCacheSize)
	}
	return &Keyword{patterns: patterns, logger: logger}
}

func (k *Keyword) ID() string { return KeywordID }

// Classify never fails on content; an uncompilable pattern is skipped.
func (k *Keyword) Classify(ctx context.Context, title, abstract string, rules TagRules) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, Failure(KeywordID, err)
	}

	rules = rules.WithDefaults()
	hits := k.Match(NormalizeText(title+" "+abstract), rules)

	total := 0
	tags := make([]string, 0, len(hits))
	for _, rule := range rules.Rules {
		if n := len(hits[rule.Tag]); n > 0 {
			tags = append(tags, rule.Tag)
			total += n
		}
	}

	return Outcome{Relevance: rules.Relevance(total), Tags: tags}, nil
}

// Match returns, per tag, the distinct strings its patterns matched in text.
func (k *Keyword) Match(text string, rules TagRules) map[string][]string {
	out := make(map[string][]string)
	for _, rule := range rules.Rules {
		seen := map[string]struct{}{}
		for _, pattern := range rule.Patterns {
			re, err := k.patterns.Compile(pattern)
			if err != nil {
				if k.logger != nil {
					k.logger.Warn("skip invalid pattern", "tag", rule.Tag, "pattern", pattern, "error", err)
				}
				continue
			}
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				word := strings.ToLower(m[1])
				if _, dup := seen[word]; dup {
					continue
				}
				seen[word] = struct{}{}
				out[rule.Tag] = append(out[rule.Tag], word)
			}
		}
	}
	return out
}

// NormalizeText applies NFKC, lowercases and collapses whitespace.
func NormalizeText(text string) string {
	text = norm.NFKC.String(text)
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
