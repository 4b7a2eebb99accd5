// Package fingerprint derives the content hashes that serve as the only
// cross-run identity of synchronized calendar events.
//
// Two families exist. Homework hashes cover subject|date|description; exam
// hashes prefix "exam" and append the provenance, so a homework hash and an
// exam hash never collide even for the same text.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"schoolsync/internal/model"
)

const (
	delimiter = "|"

	tagExam     = "exam"
	tagReminder = "reminder"
)

// Sum normalizes every field (trim + lower-case), joins them with "|" and
// returns the hex-encoded SHA-256 digest.
func Sum(fields ...string) string {
	norm := make([]string, len(fields))
	for i, f := range fields {
		norm[i] = normalize(f)
	}
	sum := sha256.Sum256([]byte(strings.Join(norm, delimiter)))
	return hex.EncodeToString(sum[:])
}

// Homework hashes a homework item: subject|YYYY-MM-DD|description.
func Homework(subject string, due time.Time, description string) string {
	return Sum(subject, model.ISODate(due), description)
}

// Exam hashes an exam-kind record:
// exam|subject|YYYY-MM-DD|description|provenance.
func Exam(subject string, date time.Time, description string, provenance string) string {
	return Sum(tagExam, subject, model.ISODate(date), description, provenance)
}

// Reminder derives the identity of the study reminder scheduled daysBefore
// days ahead of the exam identified by parentHash.
func Reminder(parentHash string, daysBefore int) string {
	return Sum(tagReminder, parentHash, strconv.Itoa(daysBefore))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
