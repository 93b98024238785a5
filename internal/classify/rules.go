package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Rule assigns a category when its condition holds. A rule with no keywords,
// pattern or amount ceiling always matches.
type Rule struct {
	AmountBelow   *decimal.Decimal
	Pattern       *regexp.Regexp // matched against NFKC-folded, lower-cased text
	Name          string
	CategoryName  string
	Keywords      []string
	Confidence    float64
	IsBusiness    bool
	MatchMerchant bool
}

// RuleSet is an ordered list of rules; the first match wins.
type RuleSet []Rule

var (
	cafeKeywords = []string{
		"カフェ", "cafe", "café", "coffee", "コーヒー", "珈琲", "喫茶",
		"スターバックス", "starbucks", "スタバ", "ドトール", "doutor", "タリーズ", "tully's",
		"コメダ", "ベローチェ", "サンマルク", "エクセルシオール", "blue bottle",
	}
	transitKeywords = []string{
		"駐車", "パーキング", "parking", "コインパーク", "タイムズ",
		"電車", "鉄道", "地下鉄", "バス", "タクシー", "taxi", "新幹線",
		"suica", "pasmo", "icoca", "交通", "高速道路", "etc利用",
	}
	consumablesCeiling = decimal.NewFromInt(1000)
)

// DefaultRuleSet returns the built-in rules.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		{
			Name:          "cafe",
			Keywords:      cafeKeywords,
			MatchMerchant: true,
			CategoryName:  "会議費",
			Confidence:    0.7,
			IsBusiness:    true,
		},
		{
			Name:         "transit",
			Keywords:     transitKeywords,
			CategoryName: "旅費交通費",
			Confidence:   0.8,
			IsBusiness:   true,
		},
		// Inflows are negative, so deposits and refunds that miss the
		// keyword rules land here as well.
		{
			Name:         "small purchase",
			AmountBelow:  &consumablesCeiling,
			CategoryName: "消耗品費",
			Confidence:   0.6,
			IsBusiness:   true,
		},
		{
			Name:         "default",
			CategoryName: "食費",
			Confidence:   0.5,
			IsBusiness:   false,
		},
	}
}

// match reports whether r applies, and the text that fired if any. Text and
// amount conditions must both hold when both are set.
func (r Rule) match(description, merchant string, amount decimal.Decimal) (string, bool) {
	var hit string
	if len(r.Keywords) > 0 || r.Pattern != nil {
		var ok bool
		if hit, ok = r.matchText(description, merchant); !ok {
			return "", false
		}
	}
	if r.AmountBelow != nil && !amount.LessThan(*r.AmountBelow) {
		return "", false
	}
	return hit, true
}

func (r Rule) matchText(description, merchant string) (string, bool) {
	for _, kw := range r.Keywords {
		kw = fold(kw)
		if strings.Contains(description, kw) || (r.MatchMerchant && strings.Contains(merchant, kw)) {
			return kw, true
		}
	}
	if r.Pattern != nil {
		if loc := r.Pattern.FindStringIndex(description); loc != nil {
			return description[loc[0]:loc[1]], true
		}
		if r.MatchMerchant {
			if loc := r.Pattern.FindStringIndex(merchant); loc != nil {
				return merchant[loc[0]:loc[1]], true
			}
		}
	}
	return "", false
}

// RuleClassifier classifies with a fixed RuleSet. It is pure and
// deterministic: equal inputs always produce equal results.
type RuleClassifier struct {
	catalog *catalog.Catalog
	rules   RuleSet
}

// NewRuleClassifier creates a rule classifier. An empty rule set selects the
// defaults.
func NewRuleClassifier(rules RuleSet, cat *catalog.Catalog) *RuleClassifier {
	if len(rules) == 0 {
		rules = DefaultRuleSet()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	return &RuleClassifier{rules: rules, catalog: cat}
}

// Classify always returns ok=true when the rule set ends with a catch-all.
func (c *RuleClassifier) Classify(_ context.Context, in model.ClassificationInput) (model.ClassificationResult, bool) {
	description := fold(in.Description)
	merchant := fold(in.MerchantName)

	for _, r := range c.rules {
		kw, ok := r.match(description, merchant, in.Amount)
		if !ok {
			continue
		}

		reason := fmt.Sprintf("rule %q", r.Name)
		if kw != "" {
			reason = fmt.Sprintf("rule %q matched %q", r.Name, kw)
		}
		return model.ClassificationResult{
			CategoryID:   c.catalog.Resolve(r.CategoryName),
			CategoryName: r.CategoryName,
			Confidence:   model.ClampConfidence(r.Confidence),
			IsBusiness:   r.IsBusiness,
			Reasoning:    reason,
			Source:       model.SourceRule,
		}, true
	}

	return model.ClassificationResult{}, false
}

func fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}
