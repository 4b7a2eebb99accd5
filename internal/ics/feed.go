// Package ics reads homework and evaluations from the ICS feeds a school
// portal exports, as an alternative to the portal API.
package ics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"schoolsync/internal/source"
)

// Config configures FeedReader.
type Config struct {
	HomeworkURL string
	// EvaluationsURL is optional.
	EvaluationsURL string
	CacheDir       string
	// Location reads the dates of timed events. Nil means time.Local.
	Location   *time.Location
	HTTPClient *http.Client
}

// FeedReader implements source.Reader over ICS feeds. Feeds carry no
// grades.
type FeedReader struct {
	cfg     Config
	fetcher *Fetcher
}

// NewFeedReader validates cfg.
func NewFeedReader(cfg Config) (*FeedReader, error) {
	if cfg.HomeworkURL == "" {
		return nil, errors.New("ics: homework feed url is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &FeedReader{cfg: cfg, fetcher: NewFetcher(cfg.HTTPClient, cfg.CacheDir)}, nil
}

// Connect opens a session. Feeds need no login, so this only arms the
// session state.
func (r *FeedReader) Connect(context.Context) (source.Session, error) {
	s := &feedSession{reader: r}
	s.guard.Open()
	return s, nil
}

type feedSession struct {
	reader *FeedReader
	guard  source.StateGuard
}

func (s *feedSession) Homework(ctx context.Context, rng source.Range) ([]source.Homework, error) {
	occs, err := s.occurrences(ctx, Feed{Name: "homework", URL: s.reader.cfg.HomeworkURL}, rng)
	if err != nil {
		return nil, err
	}
	out := make([]source.Homework, 0, len(occs))
	for _, o := range occs {
		subject, text := splitSummary(o)
		if text == "" {
			text = o.Description
		}
		out = append(out, source.Homework{
			Subject:     subject,
			Description: text,
			Date:        o.Date(s.reader.cfg.Location),
		})
	}
	return out, nil
}

func (s *feedSession) Evaluations(ctx context.Context, rng source.Range) ([]source.Evaluation, error) {
	if s.reader.cfg.EvaluationsURL == "" {
		if err := s.guard.Check(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	occs, err := s.occurrences(ctx, Feed{Name: "evaluations", URL: s.reader.cfg.EvaluationsURL}, rng)
	if err != nil {
		return nil, err
	}
	out := make([]source.Evaluation, 0, len(occs))
	for _, o := range occs {
		subject, name := splitSummary(o)
		out = append(out, source.Evaluation{
			Subject:     subject,
			Name:        name,
			Description: o.Description,
			Date:        o.Date(s.reader.cfg.Location),
			Teacher:     o.Organizer,
		})
	}
	return out, nil
}

func (s *feedSession) Grades(context.Context, source.Range) ([]source.Grade, error) {
	if err := s.guard.Check(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *feedSession) Close() error {
	s.guard.Release()
	return nil
}

func (s *feedSession) occurrences(ctx context.Context, feed Feed, rng source.Range) ([]Occurrence, error) {
	if err := s.guard.Check(); err != nil {
		return nil, err
	}
	body, err := s.reader.fetcher.Fetch(ctx, feed)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(feed, body)
	if err != nil {
		return nil, err
	}

	loc := s.reader.cfg.Location
	from := time.Date(rng.From.Year(), rng.From.Month(), rng.From.Day(), 0, 0, 0, 0, loc)
	to := time.Date(rng.To.Year(), rng.To.Month(), rng.To.Day(), 23, 59, 59, 0, loc)
	occs, err := Expand(entries, ExpandConfig{From: from, To: to})
	if err != nil {
		return nil, err
	}

	// Expansion works on instants; keep only occurrences whose date is in
	// range.
	kept := occs[:0]
	for _, o := range occs {
		if rng.Contains(o.Date(loc)) {
			kept = append(kept, o)
		}
	}
	return kept, nil
}

// splitSummary reads "Subject: text". Without a separator the first
// category names the subject and the whole summary is the text.
func splitSummary(o Occurrence) (subject, text string) {
	summary := strings.TrimSpace(o.Summary)
	if i := strings.Index(summary, ":"); i > 0 {
		return strings.TrimSpace(summary[:i]), strings.TrimSpace(summary[i+1:])
	}
	if len(o.Categories) > 0 {
		return o.Categories[0], summary
	}
	return "", summary
}
