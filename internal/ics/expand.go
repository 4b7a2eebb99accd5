package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "schoolsync/internal/log"
	"schoolsync/internal/model"
)

const defaultMaxOccurrences = 500

// ExpandConfig bounds recurrence expansion.
type ExpandConfig struct {
	// From and To are inclusive instants.
	From time.Time
	To   time.Time

	// MaxOccurrences caps each recurring entry. Zero selects 500.
	MaxOccurrences int
}

// Occurrence is one concrete instance of an entry.
type Occurrence struct {
	UID         string
	Summary     string
	Description string
	Categories  []string
	Organizer   string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Date is the calendar date the occurrence falls on. All-day entries keep
// their own date; timed ones are read in loc.
func (o Occurrence) Date(loc *time.Location) time.Time {
	if o.AllDay || loc == nil {
		return model.DateOf(o.Start)
	}
	return model.DateOf(o.Start.In(loc))
}

// Expand turns entries into occurrences inside [From, To], applying RRULE,
// EXDATE and RECURRENCE-ID overrides. Output is sorted by start time.
func Expand(entries []Entry, cfg ExpandConfig) ([]Occurrence, error) {
	if cfg.To.Before(cfg.From) {
		return nil, errors.New("expand: To is before From")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	overrides := make(map[string][]Entry)
	var bases []Entry
	for _, e := range entries {
		if e.IsOverride() {
			overrides[e.UID] = append(overrides[e.UID], e)
		} else {
			bases = append(bases, e)
		}
	}

	var out []Occurrence
	for _, e := range bases {
		if e.RawRRule == "" {
			if overlaps(e.Start, e.End, cfg.From, cfg.To) {
				out = append(out, occurrenceOf(pickOverride(e, overrides[e.UID], e.Start)))
			}
			continue
		}
		out = append(out, expandRecurring(e, overrides[e.UID], cfg)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandRecurring(e Entry, overrides []Entry, cfg ExpandConfig) []Occurrence {
	r, err := rrule.StrToRRule(e.RawRRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", e.UID, "rrule", e.RawRRule)
		return nil
	}
	r.DTStart(e.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	loc := e.Start.Location()
	starts := set.Between(cfg.From.In(loc), cfg.To.In(loc), true)
	if len(starts) > cfg.MaxOccurrences {
		appLog.Warn("expand: occurrences truncated", "uid", e.UID, "cap", cfg.MaxOccurrences)
		starts = starts[:cfg.MaxOccurrences]
	}

	dur := e.End.Sub(e.Start)
	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		inst := e
		inst.Start, inst.End = s, s.Add(dur)
		out = append(out, occurrenceOf(pickOverride(inst, overrides, s)))
	}
	return out
}

// pickOverride returns the override whose RECURRENCE-ID equals start, or
// base itself.
func pickOverride(base Entry, overrides []Entry, start time.Time) Entry {
	for _, o := range overrides {
		if o.Recurrence.Equal(start) {
			return o
		}
	}
	return base
}

func occurrenceOf(e Entry) Occurrence {
	return Occurrence{
		UID:         e.UID,
		Summary:     e.Summary,
		Description: e.Description,
		Categories:  e.Categories,
		Organizer:   e.Organizer,
		Start:       e.Start,
		End:         e.End,
		AllDay:      e.AllDay,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
