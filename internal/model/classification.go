// Package model defines the core domain models used throughout the application.
package model

import (
	"github.com/shopspring/decimal"
)

// ClassificationSource indicates which classifier produced a result.
type ClassificationSource string

// Classification source constants.
const (
	SourceRule     ClassificationSource = "rule"
	SourceAI       ClassificationSource = "ai"
	SourceFallback ClassificationSource = "fallback"
)

// ClassificationInput is everything a classifier may look at.
type ClassificationInput struct {
	Description  string
	MerchantName string
	OCRText      string
	Amount       decimal.Decimal
}

// InputFor builds the classification input for a parsed transaction.
func InputFor(txn Transaction) ClassificationInput {
	return ClassificationInput{
		Description:  txn.Description,
		MerchantName: txn.MerchantName,
		Amount:       txn.Amount,
	}
}

// ClassificationResult is a classifier's category assignment for one transaction.
type ClassificationResult struct {
	CategoryID   *string              `json:"categoryId"`
	CategoryName string               `json:"categoryName"`
	Reasoning    string               `json:"reasoning"`
	Source       ClassificationSource `json:"source"`
	Confidence   float64              `json:"confidence"`
	IsBusiness   bool                 `json:"isBusiness"`
}

// ClampConfidence forces c into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// AnnotatedTransaction is a parsed transaction together with its classification.
type AnnotatedTransaction struct {
	Classification ClassificationResult
	CategoryType   CategoryType
	Transaction
}
