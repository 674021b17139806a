package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Request metadata keys set by the coordinator.
const (
	MetaPredictionType = "prediction_type"
	MetaCreatedUnixMS  = "message_creation_timestamp"
	MetaCutoffUnixMS   = "prediction_cutoff_timestamp"
)

// RequestPolicy decides whether the client takes on an execution request
// before the adapter sees it. A nil error accepts; a non-nil error rejects
// and its message becomes the rejection reason sent upstream.
type RequestPolicy interface {
	Accept(meta map[string]string) error
}

// PolicyFunc adapts a function to RequestPolicy for fine-grained control.
type PolicyFunc func(meta map[string]string) error

func (f PolicyFunc) Accept(meta map[string]string) error { return f(meta) }

// TimeBudgetPolicy is the default acceptance check: the request's prediction
// type must be one the model performs and its time budget (cutoff minus
// creation) must fit under MaxBudget.
type TimeBudgetPolicy struct {
	PredictionTypes []string
	MaxBudget       time.Duration
}

// DefaultPolicy accepts regression and classification jobs with up to a ten
// minute budget.
func DefaultPolicy() TimeBudgetPolicy {
	return TimeBudgetPolicy{
		PredictionTypes: []string{"regression", "classification"},
		MaxBudget:       10 * time.Minute,
	}
}

func (p TimeBudgetPolicy) Accept(meta map[string]string) error {
	created, err := metaMillis(meta, MetaCreatedUnixMS)
	if err != nil {
		return err
	}
	cutoff, err := metaMillis(meta, MetaCutoffUnixMS)
	if err != nil {
		return err
	}
	kind := strings.ToLower(meta[MetaPredictionType])
	if kind == "" {
		return fmt.Errorf("request missing %s", MetaPredictionType)
	}

	if budget := time.Duration(cutoff-created) * time.Millisecond; budget > p.MaxBudget {
		return fmt.Errorf("time budget %v exceeds limit %v", budget, p.MaxBudget)
	}
	for _, t := range p.PredictionTypes {
		if strings.EqualFold(t, kind) {
			return nil
		}
	}
	return fmt.Errorf("prediction type %q not supported", kind)
}

func metaMillis(meta map[string]string, key string) (int64, error) {
	raw, ok := meta[key]
	if !ok {
		return 0, fmt.Errorf("request missing %s", key)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("request %s not a timestamp: %w", key, err)
	}
	return v, nil
}
