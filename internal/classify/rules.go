package classify

import (
	"fmt"
	"slices"
	"strings"

	"PatentTriage/internal/domain"
)

// TagRule assigns Tag when any of its wildcard patterns match.
type TagRule struct {
	Tag      string   `yaml:"tag" json:"tag"`
	Patterns []string `yaml:"patterns" json:"patterns"`
}

// TagRules is the ordered rule set plus the hit thresholds for relevance.
type TagRules struct {
	Rules           []TagRule `yaml:"rules" json:"rules"`
	HighThreshold   int       `yaml:"highThreshold" json:"highThreshold"`
	MediumThreshold int       `yaml:"mediumThreshold" json:"mediumThreshold"`
}

const (
	defaultHighThreshold   = 3
	defaultMediumThreshold = 1
)

// DefaultRules returns the demining subsystem map.
func DefaultRules() TagRules {
	return TagRules{
		Rules: []TagRule{
			{Tag: "Detection", Patterns: []string{
				"sensor*", "detect*", "radar", "lidar", "ultrasonic", "metal detect*", "gpr",
				"ground penetrat*", "imaging", "thermal", "infrared", "camera*", "vision",
			}},
			{Tag: "Mobility", Patterns: []string{
				"track*", "wheel*", "propul*", "locomot*", "terrain", "navigation", "path*",
				"obstacle", "chassis", "suspension", "drive*", "motor*", "actuator*",
			}},
			{Tag: "Manipulation", Patterns: []string{
				"arm", "gripper", "manipulat*", "end effector", "pick*", "grasp*", "tool*",
				"excavat*", "dig*",
			}},
			{Tag: "Control", Patterns: []string{
				"autonom*", "control*", "algorithm*", "ai", "machine learning", "neural",
				"computer vision", "slam", "localization", "remote*", "teleoperat*", "wireless",
			}},
			{Tag: "Safety", Patterns: []string{
				"safety", "protect*", "shield*", "armor*", "blast", "explo*", "hazard*", "risk*",
				"emergency",
			}},
			{Tag: "Power", Patterns: []string{
				"battery", "power", "energy", "fuel", "solar", "charging", "electrical", "voltage",
				"current",
			}},
		},
		HighThreshold:   defaultHighThreshold,
		MediumThreshold: defaultMediumThreshold,
	}
}

// WithDefaults fills unset thresholds and, when no rules are given, the
// default rule set.
func (r TagRules) WithDefaults() TagRules {
	if len(r.Rules) == 0 {
		r.Rules = DefaultRules().Rules
	}
	if r.HighThreshold <= 0 {
		r.HighThreshold = defaultHighThreshold
	}
	if r.MediumThreshold <= 0 {
		r.MediumThreshold = defaultMediumThreshold
	}
	return r
}

// Validate rejects empty tags and inverted thresholds.
func (r TagRules) Validate() error {
	for i, rule := range r.Rules {
		if strings.TrimSpace(rule.Tag) == "" {
			return fmt.Errorf("rule %d: empty tag", i)
		}
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %s: no patterns", rule.Tag)
		}
	}
	if r.HighThreshold < r.MediumThreshold {
		return fmt.Errorf("high threshold %d below medium threshold %d", r.HighThreshold, r.MediumThreshold)
	}
	return nil
}

// Relevance maps a total hit count onto a relevance level.
func (r TagRules) Relevance(hits int) domain.Relevance {
	r = r.WithDefaults()
	switch {
	case hits >= r.HighThreshold:
		return domain.RelevanceHigh
	case hits >= r.MediumThreshold:
		return domain.RelevanceMedium
	default:
		return domain.RelevanceLow
	}
}

// TagNames lists the rule tags in order.
func (r TagRules) TagNames() []string {
	names := make([]string, 0, len(r.Rules))
	for _, rule := range r.Rules {
		names = append(names, rule.Tag)
	}
	return names
}

// RulesFromMap builds rules from a tag → patterns map. Map order is lost, so
// tags are sorted by name.
func RulesFromMap(mapping map[string][]string) TagRules {
	tags := make([]string, 0, len(mapping))
	for tag := range mapping {
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	var rules TagRules
	for _, tag := range tags {
		patterns := cleanPatterns(mapping[tag])
		if strings.TrimSpace(tag) == "" || len(patterns) == 0 {
			continue
		}
		rules.Rules = append(rules.Rules, TagRule{Tag: strings.TrimSpace(tag), Patterns: patterns})
	}
	return rules
}

// ParseMapping reads the "Tag: pattern, pattern" line format operators use
// to edit mappings. Lines without a colon are ignored.
func ParseMapping(text string) TagRules {
	var rules TagRules
	for _, line := range strings.Split(text, "\n") {
		tag, list, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		patterns := cleanPatterns(strings.Split(list, ","))
		if strings.TrimSpace(tag) == "" || len(patterns) == 0 {
			continue
		}
		rules.Rules = append(rules.Rules, TagRule{Tag: strings.TrimSpace(tag), Patterns: patterns})
	}
	return rules
}

func cleanPatterns(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
