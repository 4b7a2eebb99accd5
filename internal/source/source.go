package source

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuth is returned by Connect when the portal rejects the credentials.
	ErrAuth = errors.New("source: authentication failed")
	// ErrClosed is returned by Session methods after Close.
	ErrClosed = errors.New("source: session closed")
)

// Range is an inclusive window of calendar dates.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls inside the window, comparing dates only.
func (r Range) Contains(d time.Time) bool {
	day := dateOf(d)
	return !day.Before(dateOf(r.From)) && !day.After(dateOf(r.To))
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Homework is a raw homework item as the portal exposes it.
// A zero Date means the portal did not provide one.
type Homework struct {
	Subject     string
	Description string
	Date        time.Time
	Done        bool
	Color       string
}

// Evaluation is a scheduled evaluation.
type Evaluation struct {
	Subject     string
	Name        string
	Description string
	Date        time.Time
	Teacher     string
	Coefficient string
}

// Grade is a graded record. Coefficient is kept as text because portals
// return it formatted ("2", "1,5", "N.Not").
type Grade struct {
	Subject     string
	Comment     string
	Date        time.Time
	Value       string
	OutOf       string
	Coefficient string
	Average     string
}

// Reader opens sessions against the school portal. Connect is the only way
// to obtain a Session; Sessions never reconnect on their own.
type Reader interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is an authenticated connection. Callers must Close it on every
// exit path.
type Session interface {
	Homework(ctx context.Context, r Range) ([]Homework, error)
	Evaluations(ctx context.Context, r Range) ([]Evaluation, error)
	Grades(ctx context.Context, r Range) ([]Grade, error)
	Close() error
}
