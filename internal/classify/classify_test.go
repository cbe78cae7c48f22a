package classify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatentTriage/internal/domain"
)

func TestWildcardMatchesWordStartsOnly(t *testing.T) {
	t.Parallel()

	cache := NewPatternCache(8)
	re, err := cache.Compile("detect*")
	require.NoError(t, err)

	assert.True(t, re.MatchString("detection"))
	assert.True(t, re.MatchString("the detector"))
	assert.True(t, re.MatchString("DETECTOR"))
	assert.False(t, re.MatchString("undetected"))

	mine, err := cache.Compile("mine")
	require.NoError(t, err)
	assert.False(t, mine.MatchString("determine"))
	assert.True(t, mine.MatchString("a mine field"))

	single, err := cache.Compile("gr?p")
	require.NoError(t, err)
	assert.True(t, single.MatchString("grip"))
	assert.False(t, single.MatchString("grp"))

	_, err = cache.Compile("DETECT*")
	require.NoError(t, err)
	assert.Equal(t, 3, cache.Len(), "patterns are cached case-insensitively")
}

func TestWildcardEscapesRegexpSyntax(t *testing.T) {
	t.Parallel()

	re, err := NewPatternCache(0).Compile("c++ (v2)")
	require.NoError(t, err)
	assert.True(t, re.MatchString("written in c++ (v2) code"))
	assert.False(t, re.MatchString("written in cc (v2) code"))
}

func TestKeywordRoboticArmIsHighManipulation(t *testing.T) {
	t.Parallel()

	k := NewKeyword(nil, nil)
	out, err := k.Classify(context.Background(), "Robotic Arm",
		"gripper manipulator end effector for grasping objects", DefaultRules())
	require.NoError(t, err)

	assert.Equal(t, domain.RelevanceHigh, out.Relevance)
	assert.Equal(t, []string{"Manipulation"}, out.Tags)
}

func TestKeywordRelevanceThresholds(t *testing.T) {
	t.Parallel()

	k := NewKeyword(nil, nil)
	rules := TagRules{Rules: []TagRule{{Tag: "Power", Patterns: []string{"battery", "solar"}}}}

	out, err := k.Classify(context.Background(), "Gardening", "a method for growing tomatoes indoors", rules)
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceLow, out.Relevance)
	assert.Empty(t, out.Tags)

	out, err = k.Classify(context.Background(), "Lamp", "a solar lamp; the solar panel charges", rules)
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceMedium, out.Relevance, "repeated words count once")
	assert.Equal(t, []string{"Power"}, out.Tags)
}

func TestKeywordTagOrderFollowsRules(t *testing.T) {
	t.Parallel()

	k := NewKeyword(nil, nil)
	out, err := k.Classify(context.Background(), "Autonomous Mine Detection Robot with Sensor Array",
		"An autonomous robot using metal detectors, radar and thermal imaging. Tracked mobility for rough terrain and blast shields.",
		DefaultRules())
	require.NoError(t, err)

	assert.Equal(t, domain.RelevanceHigh, out.Relevance)
	assert.Equal(t, []string{"Detection", "Mobility", "Control", "Safety"}, out.Tags)
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "lidar fusion", NormalizeText("  \uff2c\uff29\uff24\uff21\uff32\n\tFusion "))
}

func TestRulesParsing(t *testing.T) {
	t.Parallel()

	rules := ParseMapping("Detection: Radar, lidar\nnot a rule\nAI/Fusion: neural, ,fusion\nEmpty:\n")
	require.Len(t, rules.Rules, 2)
	assert.Equal(t, TagRule{Tag: "Detection", Patterns: []string{"radar", "lidar"}}, rules.Rules[0])
	assert.Equal(t, []string{"neural", "fusion"}, rules.Rules[1].Patterns)

	fromMap := RulesFromMap(map[string][]string{"Power": {"Battery"}, "Control": {"ai"}})
	assert.Equal(t, []string{"Control", "Power"}, fromMap.TagNames())

	assert.Error(t, TagRules{HighThreshold: 1, MediumThreshold: 2}.Validate())
	assert.NoError(t, DefaultRules().Validate())
	assert.Equal(t, domain.RelevanceHigh, TagRules{}.Relevance(3))
}

type stubClassifier struct {
	calls atomic.Int32
	fail  int32
	wait  time.Duration
}

func (s *stubClassifier) ID() string { return "stub" }

func (s *stubClassifier) Classify(ctx context.Context, _, _ string, _ TagRules) (Outcome, error) {
	n := s.calls.Add(1)
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	if n <= s.fail {
		return Outcome{}, errors.New("malformed output")
	}
	return Outcome{Relevance: domain.RelevanceMedium, Tags: []string{"Power"}}, nil
}

func TestWithRetryRecovers(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{fail: 2}
	c := WithRetry(stub, RetryPolicy{Attempts: 3, Backoff: time.Millisecond})

	out, err := c.Classify(context.Background(), "t", "a", TagRules{})
	require.NoError(t, err)
	assert.Equal(t, domain.RelevanceMedium, out.Relevance)
	assert.Equal(t, int32(3), stub.calls.Load())
	assert.Equal(t, "stub", c.ID())
}

func TestWithRetryExhausted(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{fail: 10}
	c := WithRetry(stub, RetryPolicy{Attempts: 2, Backoff: time.Millisecond})

	_, err := c.Classify(context.Background(), "t", "a", TagRules{})
	assert.ErrorIs(t, err, ErrFailure)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestWithRetryTimesOutEachAttempt(t *testing.T) {
	t.Parallel()

	stub := &stubClassifier{wait: time.Second}
	c := WithRetry(stub, RetryPolicy{Attempts: 2, Timeout: 10 * time.Millisecond})

	start := time.Now()
	_, err := c.Classify(context.Background(), "t", "a", TagRules{})
	assert.ErrorIs(t, err, ErrFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
