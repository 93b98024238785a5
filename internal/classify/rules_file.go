package classify

import (
	"fmt"
	"os"
	"regexp"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
)

// ruleFile is the on-disk form of user-defined rules.
//
//	rules:
//	  - name: coworking
//	    pattern: "(we ?work|コワーキング)"
//	    category: 地代家賃
//	    confidence: 0.9
//	    business: true
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	AmountBelow   *string  `yaml:"amount_below"`
	Name          string   `yaml:"name"`
	Pattern       string   `yaml:"pattern"`
	Category      string   `yaml:"category"`
	Keywords      []string `yaml:"keywords"`
	Confidence    float64  `yaml:"confidence"`
	Business      bool     `yaml:"business"`
	MatchMerchant *bool    `yaml:"match_merchant"`
}

// LoadRuleSet reads user-defined rules from a YAML file. Every category must
// exist in cat.
func LoadRuleSet(path string, cat *catalog.Catalog) (RuleSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from user config
	if err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	return ParseRuleSet(data, cat)
}

// ParseRuleSet decodes a YAML rule document.
func ParseRuleSet(data []byte, cat *catalog.Catalog) (RuleSet, error) {
	if cat == nil {
		cat = catalog.Default()
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}

	rules := make(RuleSet, 0, len(f.Rules))
	for i, rs := range f.Rules {
		rule, err := rs.compile(cat)
		if err != nil {
			name := rs.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s ruleSpec) compile(cat *catalog.Catalog) (Rule, error) {
	if s.Name == "" {
		return Rule{}, fmt.Errorf("name is required")
	}
	if _, ok := cat.ByName(s.Category); !ok {
		return Rule{}, fmt.Errorf("unknown category %q", s.Category)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return Rule{}, fmt.Errorf("confidence %v outside [0,1]", s.Confidence)
	}
	if s.Pattern == "" && len(s.Keywords) == 0 && s.AmountBelow == nil {
		return Rule{}, fmt.Errorf("needs keywords, a pattern or amount_below")
	}

	rule := Rule{
		Name:          s.Name,
		CategoryName:  s.Category,
		Keywords:      s.Keywords,
		Confidence:    s.Confidence,
		IsBusiness:    s.Business,
		MatchMerchant: s.MatchMerchant == nil || *s.MatchMerchant,
	}

	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid pattern: %w", err)
		}
		rule.Pattern = re
	}
	if s.AmountBelow != nil {
		limit, err := decimal.NewFromString(*s.AmountBelow)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid amount_below %q: %w", *s.AmountBelow, err)
		}
		rule.AmountBelow = &limit
	}
	return rule, nil
}

// WithDefaults returns rs followed by the built-in rules, so user rules win
// and the built-in catch-all still applies.
func (rs RuleSet) WithDefaults() RuleSet {
	out := make(RuleSet, 0, len(rs)+4)
	out = append(out, rs...)
	return append(out, DefaultRuleSet()...)
}
