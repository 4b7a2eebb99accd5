// Package classify decides whether free-text assignment descriptions
// describe homework or a test.
//
// The policy is data: an ordered list of rules, each a keyword set mapped to
// a kind. The first rule with a matching keyword wins. Matching is done on
// whole words after case and accent folding, so "Contrôle" and "controle"
// are the same keyword and "ds" does not match inside "words".
package classify

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"schoolsync/internal/model"
)

// Rule maps a keyword set to a kind.
type Rule struct {
	Name     string
	Kind     model.Kind
	Keywords []string
}

// Administrative terms: forms, slips and logistics. These override test
// keywords ("bring the signed form to the test review" is not a test).
var AdministrativeKeywords = []string{
	"formulaire", "form", "forms", "autorisation", "inscription",
	"signer", "faire signer", "signature", "coupon", "reunion",
	"paiement", "payment", "permission slip", "submission", "submit",
	"logistics", "apporter", "bring",
}

// Test and exam terms, French first.
var TestKeywords = []string{
	"controle", "controles", "devoir surveille", "ds", "evaluation", "evaluations",
	"examen", "examens", "interro", "interrogation", "bac", "bac blanc",
	"partiel", "partiels", "composition", "quiz", "quizz",
	"test", "tests", "exam", "exams", "midterm",
}

// Homework indicators. "devoir maison" and "dm" are homework even though
// they contain "devoir".
var HomeworkKeywords = []string{
	"exercice", "exercices", "devoir maison", "dm", "travail",
	"homework", "exercise", "exercises", "worksheet", "lecture", "lire",
}

// DefaultRules is the classification policy in priority order.
var DefaultRules = []Rule{
	{Name: "administrative", Kind: model.KindHomework, Keywords: AdministrativeKeywords},
	{Name: "test", Kind: model.KindTest, Keywords: TestKeywords},
	{Name: "homework", Kind: model.KindHomework, Keywords: HomeworkKeywords},
}

// ExamCoefficientThreshold flags a grade as exam-derived on its weight alone.
const ExamCoefficientThreshold = 2.0

// Classifier applies an ordered rule list.
type Classifier struct {
	rules    []compiledRule
	fallback model.Kind
}

type compiledRule struct {
	Rule
	folded []string
}

// New compiles rules; the fallback kind applies when nothing matches.
func New(rules []Rule, fallback model.Kind) *Classifier {
	c := &Classifier{fallback: fallback}
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		for _, kw := range r.Keywords {
			if f := Fold(kw); f != "" {
				cr.folded = append(cr.folded, f)
			}
		}
		c.rules = append(c.rules, cr)
	}
	return c
}

var defaultClassifier = New(DefaultRules, model.KindHomework)

// Default returns the classifier built from DefaultRules.
func Default() *Classifier {
	return defaultClassifier
}

// Classify returns the kind of the first rule that matches text and the
// rule name ("default" if none matched).
func (c *Classifier) Classify(text string) (model.Kind, string) {
	padded := " " + Fold(text) + " "
	for _, r := range c.rules {
		if containsAny(padded, r.folded) {
			return r.Kind, r.Name
		}
	}
	return c.fallback, "default"
}

// Kind is Classify without the rule name.
func (c *Classifier) Kind(text string) model.Kind {
	k, _ := c.Classify(text)
	return k
}

// MentionsTest reports whether text carries a test keyword, ignoring the
// administrative override. Used for graded records where the comment is
// written by the teacher after the fact.
func (c *Classifier) MentionsTest(text string) bool {
	padded := " " + Fold(text) + " "
	for _, r := range c.rules {
		if r.Kind == model.KindTest && containsAny(padded, r.folded) {
			return true
		}
	}
	return false
}

// IsExamGrade flags a graded record as exam-derived when its comment
// mentions a test or its coefficient reaches ExamCoefficientThreshold.
// Non-numeric coefficients are ignored.
func (c *Classifier) IsExamGrade(comment, coefficient string) bool {
	if c.MentionsTest(comment) {
		return true
	}
	if coef, ok := ParseCoefficient(coefficient); ok && coef >= ExamCoefficientThreshold {
		return true
	}
	return false
}

// ParseCoefficient reads a coefficient such as "2", "1.5" or "1,5".
func ParseCoefficient(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func containsAny(padded string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			return true
		}
	}
	return false
}

// Fold lower-cases s, strips diacritics and collapses every run of
// non-alphanumeric characters into a single space.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	lower := cases.Lower(language.Und).String(stripped)

	var b strings.Builder
	b.Grow(len(lower))
	space := true
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
