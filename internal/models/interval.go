package models

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End)
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds an interval and validates it
func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate rejects empty and inverted intervals
func (i Interval) Validate() error {
	if i.Start.IsZero() || i.End.IsZero() {
		return fmt.Errorf("interval start and end are required")
	}
	if !i.End.After(i.Start) {
		return fmt.Errorf("interval end %s must be after start %s",
			i.End.Format(time.RFC3339), i.Start.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching endpoints do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}

// Equal compares both endpoints
func (i Interval) Equal(other Interval) bool {
	return i.Start.Equal(other.Start) && i.End.Equal(other.End)
}

// Duration returns End - Start
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// CountOverlaps counts the elements of items that pass include and whose span
// overlaps query. A nil include counts every element.
func CountOverlaps[T any](items []T, query Interval, span func(T) Interval, include func(T) bool) int {
	count := 0
	for _, item := range items {
		if include != nil && !include(item) {
			continue
		}
		if span(item).Overlaps(query) {
			count++
		}
	}
	return count
}
