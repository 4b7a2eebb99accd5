package portal

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	appLog "schoolsync/internal/log"
	"schoolsync/internal/source"
)

// text accepts a JSON string, number or null. The portal is inconsistent
// about quoting coefficients and grade values.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		*t = text(b)
	}
	return nil
}

// date accepts "YYYY-MM-DD", RFC 3339 or an empty value (zero time).
// Unparseable values are logged and decode as the zero time so the record
// is dropped later instead of failing the whole response.
type date time.Time

func (d *date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || strings.TrimSpace(s) == "" {
		*d = date{}
		return nil
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		*d = date(t)
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		appLog.Warn("portal: invalid date format", "value", s)
		*d = date{}
		return nil
	}
	*d = date(t)
	return nil
}

type homeworkJSON struct {
	Subject     text `json:"subject"`
	Description text `json:"description"`
	Date        date `json:"date"`
	Done        bool `json:"done"`
	Color       text `json:"color"`
}

func (h homeworkJSON) record() source.Homework {
	return source.Homework{
		Subject:     string(h.Subject),
		Description: string(h.Description),
		Date:        time.Time(h.Date),
		Done:        h.Done,
		Color:       string(h.Color),
	}
}

type evaluationJSON struct {
	Subject     text `json:"subject"`
	Name        text `json:"name"`
	Description text `json:"description"`
	Date        date `json:"date"`
	Teacher     text `json:"teacher"`
	Coefficient text `json:"coefficient"`
}

func (e evaluationJSON) record() source.Evaluation {
	return source.Evaluation{
		Subject:     string(e.Subject),
		Name:        string(e.Name),
		Description: string(e.Description),
		Date:        time.Time(e.Date),
		Teacher:     string(e.Teacher),
		Coefficient: string(e.Coefficient),
	}
}

type gradeJSON struct {
	Subject     text `json:"subject"`
	Comment     text `json:"comment"`
	Date        date `json:"date"`
	Value       text `json:"value"`
	OutOf       text `json:"out_of"`
	Coefficient text `json:"coefficient"`
	Average     text `json:"average"`
}

func (g gradeJSON) record() source.Grade {
	return source.Grade{
		Subject:     string(g.Subject),
		Comment:     string(g.Comment),
		Date:        time.Time(g.Date),
		Value:       string(g.Value),
		OutOf:       string(g.OutOf),
		Coefficient: string(g.Coefficient),
		Average:     string(g.Average),
	}
}
