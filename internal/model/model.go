package model

import (
	"fmt"
	"time"
)

// Kind classifies an assignment. It is derived once from the description
// text during normalization and never changes afterwards.
type Kind string

const (
	KindHomework Kind = "homework"
	KindTest     Kind = "test"
	KindExam     Kind = "exam"

	// KindStudyReminder only appears on destination events derived from an
	// exam; no source record ever carries it.
	KindStudyReminder Kind = "study_reminder"
)

// DataSource records which source-side mechanism produced an assignment.
// It is diagnostic only; it never takes part in identity.
type DataSource string

const (
	SourceHomework         DataSource = "raw_homework"
	SourceEvaluation       DataSource = "evaluation"
	SourceGradedTest       DataSource = "graded_test"
	SourceTestFromHomework DataSource = "test_from_homework"
)

// Assignment is the canonical, post-normalization shape of every record the
// portal yields. For exam-kind assignments Date is the exam date, for the
// rest it is the due date.
type Assignment struct {
	Subject             string
	Description         string
	DetailedDescription string

	// Date carries no time component (midnight UTC, see DateOf).
	Date time.Time

	Kind   Kind
	Source DataSource

	// ContentHash is the cross-run identity. Empty means unprocessable.
	ContentHash string

	// Exam-only.
	Teacher     string
	Coefficient string
}

// IsExam reports whether the assignment belongs to the exam pipeline.
func (a Assignment) IsExam() bool {
	return a.Kind == KindExam
}

// Title is the display title of the calendar event.
func (a Assignment) Title() string {
	return fmt.Sprintf("%s: %s", a.Subject, a.Description)
}

// DateOf strips the time component of t, keeping the calendar date as seen
// in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ISODate renders a date as YYYY-MM-DD.
func ISODate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// Today returns the current calendar date in loc.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return DateOf(now.In(loc))
}
