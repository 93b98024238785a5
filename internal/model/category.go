package model

// CategoryType is the account class a category belongs to.
type CategoryType string

// Category type constants.
const (
	CategoryTypeAsset     CategoryType = "asset"
	CategoryTypeLiability CategoryType = "liability"
	CategoryTypeEquity    CategoryType = "equity"
	CategoryTypeRevenue   CategoryType = "revenue"
	CategoryTypeExpense   CategoryType = "expense"
)

// Valid reports whether t is one of the known category types.
func (t CategoryType) Valid() bool {
	switch t {
	case CategoryTypeAsset, CategoryTypeLiability, CategoryTypeEquity,
		CategoryTypeRevenue, CategoryTypeExpense:
		return true
	}
	return false
}

// CategoryDefinition is one entry of the chart of accounts.
type CategoryDefinition struct {
	ID         string       `json:"id" yaml:"id"`
	Code       string       `json:"code" yaml:"code"`
	Name       string       `json:"name" yaml:"name"`
	Type       CategoryType `json:"categoryType" yaml:"type"`
	Keywords   []string     `json:"keywords,omitempty" yaml:"keywords"`
	IsBusiness bool         `json:"isBusiness" yaml:"business"`
}
