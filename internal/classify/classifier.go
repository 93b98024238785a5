// Package classify assigns chart-of-accounts categories to transactions by
// combining a deterministic rule classifier with an optional AI classifier.
package classify

import (
	"context"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Classifier is the single capability every classification stage provides.
// ok is false when the stage has no opinion; implementations must not panic.
type Classifier interface {
	Classify(ctx context.Context, in model.ClassificationInput) (result model.ClassificationResult, ok bool)
}

// Recorder observes classification outcomes.
type Recorder interface {
	ObserveClassification(source model.ClassificationSource, confidence float64)
}

type noopRecorder struct{}

func (noopRecorder) ObserveClassification(model.ClassificationSource, float64) {}
