// Package calendar is the destination side of the sync: a calendar that can
// be searched by content hash, created into and updated.
//
// Every event this system writes carries an annotation bag in a private,
// user-invisible area of the destination. The content hash stored there is
// the only state the sync relies on between runs.
package calendar

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"schoolsync/internal/model"
)

// Annotation keys.
const (
	KeySource         = "source"
	KeyContentHash    = "content_hash"
	KeyAssignmentType = "assignment_type"
	KeySchemaVersion  = "schema_version"
	KeySubject        = "subject"
	KeyDueDate        = "due_date"
	KeyDataSource     = "data_source"
	KeyParentExamHash = "parent_exam_hash"
	KeyDaysBefore     = "days_before"
)

const (
	// SourceTag marks events owned by this system.
	SourceTag = "schoolsync"
	// SchemaVersion is bumped whenever the annotation layout changes.
	SchemaVersion = "2"
)

// SearchWindow bounds FindByContentHash on both sides of "now". Events
// outside it are invisible to dedup and may be created again.
const SearchWindow = 90 * 24 * time.Hour

var (
	// ErrAuth is returned when the destination rejects our credentials or
	// the calendar is not accessible to them.
	ErrAuth = errors.New("calendar: authentication failed")
	// ErrNotFound is returned by Update for an unknown event id.
	ErrNotFound = errors.New("calendar: event not found")
)

// Annotations is the private key/value bag attached to an event.
type Annotations map[string]string

// NewAnnotations returns the mandatory annotations for an event.
func NewAnnotations(contentHash string, kind model.Kind) Annotations {
	return Annotations{
		KeySource:         SourceTag,
		KeyContentHash:    contentHash,
		KeyAssignmentType: string(kind),
		KeySchemaVersion:  SchemaVersion,
	}
}

// Keys returns the annotation keys in sorted order.
func (a Annotations) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone copies the bag.
func (a Annotations) Clone() Annotations {
	out := make(Annotations, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// DaysBefore reads the reminder offset, if any.
func (a Annotations) DaysBefore() (int, bool) {
	n, err := strconv.Atoi(a[KeyDaysBefore])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Event is a destination calendar entry. ID is assigned by the destination
// and ignored on Create.
type Event struct {
	ID          string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	// TimeZone is the IANA zone the destination should display the event in.
	TimeZone    string
	ColorID     string
	Annotations Annotations
}

// ContentHash returns the stored fingerprint.
func (e Event) ContentHash() string {
	return e.Annotations[KeyContentHash]
}

// Owned reports whether the event was written by this system.
func (e Event) Owned() bool {
	return e.Annotations[KeySource] == SourceTag
}

// Store is the destination contract.
type Store interface {
	// FindByContentHash returns the event carrying hash, searching events
	// that start within SearchWindow of now. It returns (nil, nil) when
	// nothing matches.
	FindByContentHash(ctx context.Context, hash string) (*Event, error)
	// Create inserts ev and returns the destination id.
	Create(ctx context.Context, ev Event) (string, error)
	// Update replaces the event identified by id.
	Update(ctx context.Context, id string, ev Event) error
}

// inWindow reports whether start lies within SearchWindow of now.
func inWindow(start, now time.Time) bool {
	return !start.Before(now.Add(-SearchWindow)) && !start.After(now.Add(SearchWindow))
}
