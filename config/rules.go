package config

import (
	"fmt"

	"github.com/agnivade/levenshtein"
	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/juan-carlos/juancarlos/markup"
	"golang.org/x/exp/slices"
)

// UnknownRuleError is returned for configuration of a rule that does not
// exist.
type UnknownRuleError struct {
	Name string
	// Suggestion is the closest known rule name, if any is close enough.
	Suggestion string
}

func (e *UnknownRuleError) Error() string {
	if len(e.Suggestion) != 0 {
		return fmt.Sprintf("unknown rule %q, did you mean %q?", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown rule %q", e.Name)
}

func newUnknownRuleError(name string) *UnknownRuleError {
	return &UnknownRuleError{Name: name, Suggestion: SuggestRule(name)}
}

func IsKnownRule(name string) bool {
	return slices.Contains(analysis.RuleNames(), name)
}

// SuggestRule returns the known rule name closest to name, or an empty
// string when nothing is within a third of the name's length.
func SuggestRule(name string) string {
	best, bestDist := "", 0
	for _, known := range analysis.RuleNames() {
		dist := levenshtein.ComputeDistance(name, known)
		if len(best) == 0 || dist < bestDist {
			best, bestDist = known, dist
		}
	}

	if bestDist > max(2, len(name)/3) {
		return ""
	}
	return best
}

// BuildRules instantiates the enabled built-in rules in their fixed order
// with the configured overrides applied.
func (cfg *Config) BuildRules() ([]analysis.Rule, error) {
	var rules []analysis.Rule

	for _, name := range analysis.RuleNames() {
		rc := cfg.Rules[name]
		if !rc.IsEnabled() {
			continue
		}

		severity, err := ParseSeverity(rc.Severity)
		if err != nil {
			return nil, err
		}

		switch name {
		case analysis.ClassAttributeRuleName:
			rule := analysis.NewClassAttributeRule()
			rule.Severity = severity
			if len(rc.Message) != 0 {
				rule.Message = rc.Message
			}
			if rc.Code != nil {
				code := *rc.Code
				rule.Code = &code
			}
			rules = append(rules, rule)
		case analysis.DuplicateIDRuleName:
			rule := analysis.NewDuplicateIDRule()
			rule.Severity = severity
			if len(rc.Message) != 0 {
				rule.Message = rc.Message
			}
			rules = append(rules, rule)
		}
	}

	return rules, nil
}

func (cfg *Config) NewParser() *markup.Parser {
	return &markup.Parser{
		Timeout: cfg.Parser.Timeout,
		MaxSize: cfg.Parser.MaxDocumentSize,
	}
}

// BuildAnalyzer returns an analyzer for cfg. The analyzer does not change
// when cfg is merged later; build a new one instead.
func (cfg *Config) BuildAnalyzer() (*analysis.Analyzer, error) {
	rules, err := cfg.BuildRules()
	if err != nil {
		return nil, err
	}

	return analysis.New(
		analysis.WithParser(cfg.NewParser()),
		analysis.WithRules(rules...),
	), nil
}

// RuleInfos describes every built-in rule with the configured settings,
// sorted by name. Disabled rules are included with Enabled unset.
func (cfg *Config) RuleInfos() []RuleStatus {
	rules, _ := cfg.BuildRules()

	statuses := make([]RuleStatus, 0, len(analysis.RuleNames()))
	for _, rule := range analysis.DefaultRules() {
		info := rule.Info()
		status := RuleStatus{RuleInfo: info}

		for _, enabled := range rules {
			if enabled.Info().Name == info.Name {
				status.RuleInfo = enabled.Info()
				status.Enabled = true
			}
		}
		statuses = append(statuses, status)
	}

	slices.SortFunc(statuses, func(a, b RuleStatus) int {
		if a.Name < b.Name {
			return -1
		} else if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return statuses
}

type RuleStatus struct {
	analysis.RuleInfo `yaml:",inline"`
	Enabled           bool `json:"enabled" yaml:"enabled"`
}
