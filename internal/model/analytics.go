package model

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe bounds analytics queries.
type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

// ParseTimeframe defaults to week.
func ParseTimeframe(s string) (Timeframe, error) {
	switch t := Timeframe(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TimeframeWeek, nil
	case TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeYear:
		return t, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

// Since returns the start of the window ending at now.
func (t Timeframe) Since(now time.Time) time.Time {
	switch t {
	case TimeframeDay:
		return now.AddDate(0, 0, -1)
	case TimeframeMonth:
		return now.AddDate(0, -1, 0)
	case TimeframeYear:
		return now.AddDate(-1, 0, 0)
	}
	return now.AddDate(0, 0, -7)
}

// AnalyticsFilter narrows DocumentAnalytics.
type AnalyticsFilter struct {
	Since        time.Time
	DocumentType DocumentType
}

// TypeBreakdown is one row of the per-type breakdown.
type TypeBreakdown struct {
	DocumentType      DocumentType `db:"document_type" json:"document_type"`
	Total             int          `db:"total" json:"total"`
	Processed         int          `db:"processed" json:"processed"`
	Failed            int          `db:"failed" json:"failed"`
	AverageConfidence float64      `db:"average_confidence" json:"average_confidence"`
}

// Analytics aggregates documents created within a window.
type Analytics struct {
	Total                    int             `json:"total"`
	Processed                int             `json:"processed"`
	Failed                   int             `json:"failed"`
	AverageProcessingSeconds float64         `json:"average_processing_seconds"`
	AverageConfidence        float64         `json:"average_confidence"`
	ByType                   []TypeBreakdown `json:"by_type"`
}
