package domain

import (
	"fmt"
	"time"
)

// Earthquake is one seismic observation from the KOERI bulletin.
// Records are immutable once stored; the only mutation the system performs
// is the administrative deletion of the single most recent record.
type Earthquake struct {
	OccurredAt time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Depth      float64   `json:"depth"` // km

	// Magnitude scales; nil means the scale was not reported ("-.-").
	MD *float64 `json:"md"`
	ML *float64 `json:"ml"`
	MW *float64 `json:"mw"`

	// Magnitude is the maximum of the scales present, nil when none is.
	Magnitude *float64 `json:"magnitude"`

	Location string `json:"location"`
	Quality  string `json:"quality"`

	// Calendar fields derived from OccurredAt at insert time for range queries.
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
	Week  int `json:"week"` // ISO week number
}

// QualityProvisional is the default quality tag for rows whose quality
// column is missing or unrecognized.
const QualityProvisional = "İlksel"

// QualityRevised marks a row the observatory has re-analyzed.
const QualityRevised = "REVIZE"

// NaturalKey renders the identity triple as a stable string, used for
// in-batch dedup and log correlation.
func (e Earthquake) NaturalKey() string {
	return fmt.Sprintf("%s|%.4f|%.4f",
		e.OccurredAt.UTC().Format(time.RFC3339), e.Latitude, e.Longitude)
}

// DeriveMagnitude returns the maximum of the magnitude scales present,
// or nil when all are absent. Never defaults to zero: a missing magnitude
// must stay distinguishable from a magnitude-0 event.
func DeriveMagnitude(md, ml, mw *float64) *float64 {
	var maxVal *float64
	for _, m := range []*float64{md, ml, mw} {
		if m == nil {
			continue
		}
		if maxVal == nil || *m > *maxVal {
			v := *m
			maxVal = &v
		}
	}
	return maxVal
}

// DeriveCalendar fills the year/month/day/ISO-week fields from OccurredAt.
func (e *Earthquake) DeriveCalendar() {
	t := e.OccurredAt.UTC()
	e.Year = t.Year()
	e.Month = int(t.Month())
	e.Day = t.Day()
	_, e.Week = t.ISOWeek()
}
