package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(m time.Month, d, h int) time.Time {
	return time.Date(2025, m, d, h, 0, 0, 0, time.UTC)
}

func TestExpandAppliesOverride(t *testing.T) {
	rid := utc(3, 10, 7)
	entries := []Entry{
		{
			UID:      "weekly",
			Summary:  "Anglais: Quiz",
			Start:    utc(3, 3, 7),
			End:      utc(3, 3, 8),
			RawRRule: "FREQ=WEEKLY;COUNT=3",
		},
		{
			UID:        "weekly",
			Summary:    "Anglais: Quiz (moved)",
			Start:      utc(3, 11, 7),
			End:        utc(3, 11, 8),
			Recurrence: &rid,
		},
	}

	occs, err := Expand(entries, ExpandConfig{From: utc(3, 1, 0), To: utc(3, 31, 0)})
	require.NoError(t, err)
	require.Len(t, occs, 3)

	assert.Equal(t, utc(3, 3, 7), occs[0].Start)
	assert.Equal(t, "Anglais: Quiz (moved)", occs[1].Summary)
	assert.True(t, occs[1].Start.Equal(utc(3, 11, 7)))
	assert.True(t, occs[2].Start.Equal(utc(3, 17, 7)))
	assert.Equal(t, time.Hour, occs[2].End.Sub(occs[2].Start))
}

func TestExpandCapAndBadRule(t *testing.T) {
	entries := []Entry{
		{UID: "daily", Start: utc(3, 1, 7), End: utc(3, 1, 8), RawRRule: "FREQ=DAILY"},
		{UID: "broken", Start: utc(3, 1, 7), End: utc(3, 1, 8), RawRRule: "FREQ=SOMETIMES"},
	}
	occs, err := Expand(entries, ExpandConfig{From: utc(3, 1, 0), To: utc(3, 31, 0), MaxOccurrences: 5})
	require.NoError(t, err)
	assert.Len(t, occs, 5)
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	_, err := Expand(nil, ExpandConfig{From: utc(3, 2, 0), To: utc(3, 1, 0)})
	assert.Error(t, err)
}

func TestOccurrenceDate(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	late := Occurrence{Start: time.Date(2025, 3, 5, 23, 30, 0, 0, time.UTC)}
	assert.Equal(t, 6, late.Date(paris).Day())

	allDay := Occurrence{Start: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC), AllDay: true}
	assert.Equal(t, 5, allDay.Date(paris).Day())
}

func TestSplitSummary(t *testing.T) {
	s, txt := splitSummary(Occurrence{Summary: "Maths: Exercice 4"})
	assert.Equal(t, "Maths", s)
	assert.Equal(t, "Exercice 4", txt)

	s, txt = splitSummary(Occurrence{Summary: "Lire", Categories: []string{"Histoire"}})
	assert.Equal(t, "Histoire", s)
	assert.Equal(t, "Lire", txt)

	s, txt = splitSummary(Occurrence{Summary: "Lire"})
	assert.Empty(t, s)
	assert.Equal(t, "Lire", txt)
}
