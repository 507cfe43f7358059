// Package rules provides a YAML-based rules engine mapping transaction
// descriptions onto ledger category names.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// MatchType defines how patterns are matched against transaction descriptions
type MatchType string

const (
	// MatchTypeExact requires the pattern to match the entire description exactly
	MatchTypeExact MatchType = "exact"
	// MatchTypeContains requires the pattern to be a substring of the description
	MatchTypeContains MatchType = "contains"
	// MatchTypePrefix requires the description to start with the pattern
	MatchTypePrefix MatchType = "prefix"
	// MatchTypeRegex treats the pattern as a case-insensitive regular expression
	MatchTypeRegex MatchType = "regex"
)

// Direction restricts a rule to outflows or inflows
type Direction string

const (
	DirectionAny     Direction = ""
	DirectionOutflow Direction = "outflow"
	DirectionInflow  Direction = "inflow"
)

// Rule represents a single categorization rule.
//
// Rules should be created via NewEngine/LoadEmbedded/LoadFromFile or NewRule;
// both validate every field. Direct struct construction bypasses validation.
type Rule struct {
	Name      string    `yaml:"name"`
	Pattern   string    `yaml:"pattern"`
	MatchType MatchType `yaml:"match_type"`
	Priority  int       `yaml:"priority"`
	Category  string    `yaml:"category"`
	Direction Direction `yaml:"direction"`

	re *regexp.Regexp
}

// NewRule creates a validated rule
func NewRule(name, pattern string, matchType MatchType, priority int, category string, direction Direction) (*Rule, error) {
	rule := Rule{
		Name:      name,
		Pattern:   pattern,
		MatchType: matchType,
		Priority:  priority,
		Category:  category,
		Direction: direction,
	}
	if err := rule.compile(); err != nil {
		return nil, err
	}
	return &rule, nil
}

// compile validates the rule and prepares its matcher
func (r *Rule) compile() error {
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}

	// Validate priority (0-999)
	if r.Priority < 0 || r.Priority > 999 {
		return fmt.Errorf("priority must be in [0,999], got %d", r.Priority)
	}

	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("pattern cannot be empty")
	}

	switch r.Direction {
	case DirectionAny, DirectionOutflow, DirectionInflow:
	default:
		return fmt.Errorf("invalid direction %q (must be 'outflow', 'inflow' or empty)", r.Direction)
	}

	switch r.MatchType {
	case MatchTypeExact, MatchTypeContains, MatchTypePrefix:
	case MatchTypeRegex:
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", r.Pattern, err)
		}
		r.re = re
	default:
		return fmt.Errorf("invalid match_type %q (must be 'exact', 'contains', 'prefix' or 'regex')", r.MatchType)
	}
	return nil
}

// matches reports whether the normalized description and amount satisfy the rule
func (r *Rule) matches(normalizedDesc string, amount decimal.Decimal) bool {
	switch r.Direction {
	case DirectionOutflow:
		if !amount.IsNegative() {
			return false
		}
	case DirectionInflow:
		if amount.IsNegative() {
			return false
		}
	}

	normalizedPattern := strings.ToLower(strings.TrimSpace(r.Pattern))
	switch r.MatchType {
	case MatchTypeExact:
		return normalizedDesc == normalizedPattern
	case MatchTypeContains:
		return strings.Contains(normalizedDesc, normalizedPattern)
	case MatchTypePrefix:
		return strings.HasPrefix(normalizedDesc, normalizedPattern)
	case MatchTypeRegex:
		return r.re != nil && r.re.MatchString(normalizedDesc)
	}
	return false
}

// RuleSet represents the top-level YAML structure
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Engine performs rule matching on transaction descriptions
type Engine struct {
	rules []Rule // Sorted by priority (highest first)
}

// MatchResult contains the result of applying a rule
type MatchResult struct {
	Category string
	RuleName string // For debugging
}

// NewEngine creates a rules engine from YAML data
func NewEngine(rulesData []byte) (*Engine, error) {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(rulesData, &ruleSet); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	for i := range ruleSet.Rules {
		if err := ruleSet.Rules[i].compile(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, ruleSet.Rules[i].Name, err)
		}
	}

	// SliceStable keeps YAML order for equal priorities so matching is deterministic
	sortedRules := make([]Rule, len(ruleSet.Rules))
	copy(sortedRules, ruleSet.Rules)
	sort.SliceStable(sortedRules, func(i, j int) bool {
		return sortedRules[i].Priority > sortedRules[j].Priority
	})

	return &Engine{
		rules: sortedRules,
	}, nil
}

// LoadEmbedded loads the embedded rules.yaml file
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded rules (possible binary corruption): %w", err)
	}
	return engine, nil
}

// LoadFromFile loads rules from a filesystem path
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return engine, nil
}

// Load reads path when set, otherwise the embedded rules
func Load(path string) (*Engine, error) {
	if path == "" {
		return LoadEmbedded()
	}
	return LoadFromFile(path)
}

// Match applies rules to a transaction and returns the first match.
// Rules are evaluated in priority order (highest first), equal priorities in
// YAML file order. Returns (nil, false) if no rules match.
func (e *Engine) Match(description string, amount decimal.Decimal) (*MatchResult, bool) {
	if e == nil {
		return nil, false
	}
	normalizedDesc := strings.ToLower(strings.TrimSpace(description))

	for i := range e.rules {
		rule := &e.rules[i]
		if rule.matches(normalizedDesc, amount) {
			return &MatchResult{
				Category: rule.Category,
				RuleName: rule.Name,
			}, true
		}
	}

	return nil, false
}

// GetRules returns a copy of the rules in priority order
func (e *Engine) GetRules() []Rule {
	result := make([]Rule, len(e.rules))
	copy(result, e.rules)
	return result
}
