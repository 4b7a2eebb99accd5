package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "schoolsync/internal/log"
)

// Entry is one VEVENT of a feed. Recurrences are kept unexpanded here;
// see Expand.
type Entry struct {
	UID         string
	Summary     string
	Description string
	Categories  []string
	Organizer   string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID of an overridden instance
}

// IsOverride reports whether the entry replaces one instance of a
// recurring entry with the same UID.
func (e Entry) IsOverride() bool {
	return e.Recurrence != nil
}

// Parse reads a feed body. Unreadable VEVENTs are logged and skipped.
func Parse(feed Feed, body []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("feed %s: empty body", feed.Name)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("feed %s: parse: %w", feed.Name, err)
	}

	var entries []Entry
	for _, ve := range cal.Events() {
		e, err := parseVEvent(ve)
		if err != nil {
			appLog.Error("ics vevent skipped", err, "feed", feed.Name)
			continue
		}
		entries = append(entries, e)
	}
	appLog.Debug("ics parse completed", "feed", feed.Name, "entries", len(entries))
	return entries, nil
}

func parseVEvent(ve *ical.VEvent) (Entry, error) {
	var e Entry

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return e, errors.New("missing UID")
	}
	e.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		e.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		e.Description = unescapeText(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(unescapeText(c)); c != "" {
				e.Categories = append(e.Categories, c)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		if cn := p.ICalParameters["CN"]; len(cn) > 0 {
			e.Organizer = strings.Trim(cn[0], `"`)
		}
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return e, fmt.Errorf("uid %s: DTSTART: %w", e.UID, err)
	}
	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start
	}
	e.Start, e.End = start, end

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if vs := p.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			e.AllDay = true
		}
		if !strings.Contains(p.Value, "T") {
			e.AllDay = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		e.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, start.Location()); err == nil {
				e.ExDates = append(e.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, start.Location()); err == nil {
			e.Recurrence = &t
		}
	}
	return e, nil
}

// parseICSTime handles the three basic DATE / DATE-TIME forms. Floating
// values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
