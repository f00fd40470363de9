// Package validate implements the structured validator for batch envelopes
// and samples (spec.md §3), returning a per-index field error list instead
// of throwing — the re-architecture guidance in spec.md §9 ("declare
// explicit record types and a validator that returns a structured error
// list; never throw across layers").
package validate

import (
	"math"
	"regexp"

	"github.com/vantage-observability/vantage/internal/model"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]+$`)

// FieldError is one entry of the §8 scenario-2 error body shape
// {index, field, code}.
type FieldError struct {
	Index int    `json:"index"`
	Field string `json:"field"`
	Code  string `json:"code"`
}

const maxIdentifierLen = 255
const maxTagCount = 32
const maxTagLen = 128

// Envelope validates a BatchEnvelope against spec.md §3, returning every
// violation found (not just the first) so the caller can report a
// complete {errors:[...]} body.
func Envelope(env model.BatchEnvelope, maxBatchSize int) []FieldError {
	var errs []FieldError
	if len(env.Metrics) == 0 {
		errs = append(errs, FieldError{Index: -1, Field: "metrics", Code: "empty_batch"})
	}
	if len(env.Metrics) > maxBatchSize {
		errs = append(errs, FieldError{Index: -1, Field: "metrics", Code: "batch_too_large"})
		return errs // 413 path; no point validating samples past this
	}
	for i, s := range env.Metrics {
		errs = append(errs, Sample(i, s)...)
	}
	return errs
}

// Sample validates one Sample, tagging every error with its batch index.
func Sample(index int, s model.Sample) []FieldError {
	var errs []FieldError
	add := func(field, code string) {
		errs = append(errs, FieldError{Index: index, Field: field, Code: code})
	}

	if !validIdentifier(s.ServiceName) {
		add("service_name", "invalid_identifier")
	}
	if !validIdentifier(s.MetricName) {
		add("metric_name", "invalid_identifier")
	}
	if !s.MetricType.Valid() {
		add("metric_type", "invalid_enum")
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		add("value", "non_finite")
	}
	if s.StatusCode != 0 && (s.StatusCode < 100 || s.StatusCode > 599) {
		add("status_code", "out_of_range")
	}
	if s.DurationMs < 0 {
		add("duration_ms", "out_of_range")
	}
	if len(s.Tags) > maxTagCount {
		add("tags", "too_many_keys")
	}
	for k, v := range s.Tags {
		if len(k) > maxTagLen || len(v) > maxTagLen {
			add("tags", "value_too_long")
			break
		}
	}
	return errs
}

func validIdentifier(s string) bool {
	return s != "" && len(s) <= maxIdentifierLen && identifierPattern.MatchString(s)
}
