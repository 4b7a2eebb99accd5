// Package normalize turns the raw portal records into canonical
// assignments. All defaults for missing or empty fields are applied here and
// nowhere else.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"schoolsync/internal/classify"
	"schoolsync/internal/fingerprint"
	appLog "schoolsync/internal/log"
	"schoolsync/internal/model"
	"schoolsync/internal/source"
)

// Placeholders used when the portal leaves a field empty.
const (
	UnknownSubject         = "Unknown Subject"
	UnknownTeacher         = "Unknown Teacher"
	DefaultHomeworkLabel   = "Homework assignment"
	DefaultEvaluationLabel = "Evaluation"
	DefaultCoefficient     = "1"
)

// Provenance strings folded into exam hashes. "grade" predates the
// graded_test naming and is kept so existing calendar events still match.
var hashProvenance = map[model.DataSource]string{
	model.SourceEvaluation:       "evaluation",
	model.SourceGradedTest:       "grade",
	model.SourceTestFromHomework: "test_from_homework",
}

// Normalizer converts raw records using a classification policy.
type Normalizer struct {
	classifier *classify.Classifier
}

// New returns a Normalizer. A nil classifier selects classify.Default().
func New(c *classify.Classifier) *Normalizer {
	if c == nil {
		c = classify.Default()
	}
	return &Normalizer{classifier: c}
}

// Homework normalizes raw homework items. Items without a due date are
// dropped.
func (n *Normalizer) Homework(raws []source.Homework) []model.Assignment {
	out := make([]model.Assignment, 0, len(raws))
	for _, hw := range raws {
		if hw.Date.IsZero() {
			appLog.Warn("homework missing due date, skipping", "subject", hw.Subject)
			continue
		}
		subject := subjectOrDefault(hw.Subject)
		description := strings.TrimSpace(hw.Description)
		if description == "" {
			description = DefaultHomeworkLabel
		}
		due := model.DateOf(hw.Date)
		kind, rule := n.classifier.Classify(description)

		a := model.Assignment{
			Subject:             subject,
			Description:         description,
			DetailedDescription: hw.Description,
			Date:                due,
			Kind:                kind,
			Source:              model.SourceHomework,
			ContentHash:         fingerprint.Homework(subject, due, description),
		}
		appLog.Debug("normalized homework",
			"subject", subject,
			"due", model.ISODate(due),
			"kind", kind,
			"rule", rule,
			"hash", appLog.ShortHash(a.ContentHash),
		)
		out = append(out, a)
	}
	return out
}

// Evaluations normalizes scheduled evaluations into exam assignments.
func (n *Normalizer) Evaluations(raws []source.Evaluation) []model.Assignment {
	out := make([]model.Assignment, 0, len(raws))
	for _, ev := range raws {
		if ev.Date.IsZero() {
			appLog.Warn("evaluation missing date, skipping", "subject", ev.Subject)
			continue
		}
		name := strings.TrimSpace(ev.Name)
		if name == "" {
			name = DefaultEvaluationLabel
		}
		teacher := strings.TrimSpace(ev.Teacher)
		if teacher == "" {
			teacher = UnknownTeacher
		}
		coefficient := strings.TrimSpace(ev.Coefficient)
		if coefficient == "" {
			coefficient = DefaultCoefficient
		}
		out = append(out, n.exam(ev.Subject, name, ev.Description, ev.Date, model.SourceEvaluation, teacher, coefficient))
	}
	return out
}

// Grades keeps only graded records that look exam-derived and normalizes
// them into exam assignments.
func (n *Normalizer) Grades(raws []source.Grade) []model.Assignment {
	out := make([]model.Assignment, 0, len(raws))
	for _, g := range raws {
		if g.Date.IsZero() {
			appLog.Warn("grade missing date, skipping", "subject", g.Subject)
			continue
		}
		if !n.classifier.IsExamGrade(g.Comment, g.Coefficient) {
			continue
		}
		subject := subjectOrDefault(g.Subject)
		comment := strings.TrimSpace(g.Comment)
		description := comment
		if description == "" {
			description = "Examen " + subject
		}
		value, outOf := strings.TrimSpace(g.Value), strings.TrimSpace(g.OutOf)
		if value != "" && outOf != "" {
			description += fmt.Sprintf(" (%s/%s)", value, outOf)
		}
		out = append(out, n.exam(subject, description, comment, g.Date, model.SourceGradedTest, "", strings.TrimSpace(g.Coefficient)))
	}
	return out
}

// TestsFromHomework re-emits test-classified homework as exam assignments
// so they reach the exam pipeline. The due date becomes the exam date.
func (n *Normalizer) TestsFromHomework(homework []model.Assignment) []model.Assignment {
	var out []model.Assignment
	for _, hw := range homework {
		if hw.Kind != model.KindTest {
			continue
		}
		out = append(out, n.exam(hw.Subject, hw.Description, hw.DetailedDescription, hw.Date,
			model.SourceTestFromHomework, UnknownTeacher, DefaultCoefficient))
	}
	return out
}

func (n *Normalizer) exam(subject, description, detail string, date time.Time, src model.DataSource, teacher, coefficient string) model.Assignment {
	subject = subjectOrDefault(subject)
	day := model.DateOf(date)
	a := model.Assignment{
		Subject:             subject,
		Description:         description,
		DetailedDescription: detail,
		Date:                day,
		Kind:                model.KindExam,
		Source:              src,
		ContentHash:         fingerprint.Exam(subject, day, description, hashProvenance[src]),
		Teacher:             teacher,
		Coefficient:         coefficient,
	}
	appLog.Debug("normalized exam",
		"subject", subject,
		"date", model.ISODate(day),
		"source", src,
		"hash", appLog.ShortHash(a.ContentHash),
	)
	return a
}

// Dedup merges lists keeping the first assignment seen for each content
// hash. Assignments without a hash are dropped.
func Dedup(lists ...[]model.Assignment) []model.Assignment {
	seen := make(map[string]struct{})
	var out []model.Assignment
	for _, list := range lists {
		for _, a := range list {
			if a.ContentHash == "" {
				appLog.Warn("assignment without content hash dropped", "title", a.Title(), "source", a.Source)
				continue
			}
			if _, dup := seen[a.ContentHash]; dup {
				appLog.Debug("duplicate assignment dropped",
					"hash", appLog.ShortHash(a.ContentHash),
					"source", a.Source,
				)
				continue
			}
			seen[a.ContentHash] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func subjectOrDefault(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownSubject
	}
	return s
}
