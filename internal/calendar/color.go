package calendar

import "strings"

// subjectColors maps subject name fragments to Google Calendar color ids.
var subjectColors = []struct {
	fragment string
	colorID  string
}{
	{"mathématiques", "11"},
	{"maths", "11"},
	{"français", "3"},
	{"anglais", "5"},
	{"histoire", "8"},
	{"géographie", "8"},
	{"sciences", "2"},
	{"svt", "2"},
	{"physique", "2"},
	{"chimie", "2"},
	{"eps", "4"},
	{"arts", "6"},
	{"technologie", "9"},
}

const (
	defaultColorID  = "1"
	reminderColorID = "10"
)

// SubjectColor picks a color id for a subject. Unknown subjects get the
// default blue.
func SubjectColor(subject string) string {
	s := strings.ToLower(subject)
	for _, c := range subjectColors {
		if strings.Contains(s, c.fragment) {
			return c.colorID
		}
	}
	return defaultColorID
}

// ReminderColor is used for study reminders regardless of subject.
func ReminderColor() string {
	return reminderColorID
}
