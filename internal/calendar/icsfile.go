package calendar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "schoolsync/internal/log"
)

const (
	icsProductID = "-//schoolsync//school calendar sync//EN"

	// Annotation keys are stored as X-SCHOOLSYNC-<KEY> with "_" mapped to "-".
	// TZ and COLOR are reserved for event fields.
	icsAnnotationPrefix = "X-SCHOOLSYNC-"
	icsPropTimeZone     = "X-SCHOOLSYNC-TZ"
	icsPropColor        = "X-SCHOOLSYNC-COLOR"
)

// ICSFileStore persists events in a local iCalendar file that any calendar
// client can subscribe to. The whole file is rewritten atomically on every
// mutation.
type ICSFileStore struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	order  []string
	events map[string]Event
}

// OpenICSFile loads path, or starts empty if it does not exist yet.
func OpenICSFile(path string, now func() time.Time) (*ICSFileStore, error) {
	if path == "" {
		return nil, errors.New("ics store: path is empty")
	}
	if now == nil {
		now = time.Now
	}
	s := &ICSFileStore{path: path, now: now, events: make(map[string]Event)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("ics store: starting new calendar file", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("ics store: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ics store: parse %s: %w", path, err)
	}
	for _, ve := range cal.Events() {
		ev, err := eventFromVEvent(ve)
		if err != nil {
			appLog.Error("ics store: skipping unreadable event", err, "path", path)
			continue
		}
		s.events[ev.ID] = ev
		s.order = append(s.order, ev.ID)
	}
	appLog.Info("ics store: loaded", "path", path, "event_count", len(s.order))
	return s, nil
}

func (s *ICSFileStore) FindByContentHash(_ context.Context, hash string) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range s.order {
		ev := s.events[id]
		if ev.ContentHash() == hash && inWindow(ev.Start, now) {
			out := ev
			out.Annotations = ev.Annotations.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (s *ICSFileStore) Create(_ context.Context, ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = uuid.NewString() + "@" + SourceTag
	ev.Annotations = ev.Annotations.Clone()
	s.events[ev.ID] = ev
	s.order = append(s.order, ev.ID)

	if err := s.flush(); err != nil {
		delete(s.events, ev.ID)
		s.order = s.order[:len(s.order)-1]
		return "", err
	}
	return ev.ID, nil
}

func (s *ICSFileStore) Update(_ context.Context, id string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.events[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	ev.ID = id
	ev.Annotations = ev.Annotations.Clone()
	s.events[id] = ev

	if err := s.flush(); err != nil {
		s.events[id] = prev
		return err
	}
	return nil
}

// Events returns a snapshot in file order.
func (s *ICSFileStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.events[id])
	}
	return out
}

// flush serializes all events and replaces the file. Caller holds s.mu.
func (s *ICSFileStore) flush() error {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	stamp := s.now().UTC()
	for _, id := range s.order {
		ev := s.events[id]
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		if ev.TimeZone != "" {
			ve.SetProperty(ical.ComponentProperty(icsPropTimeZone), ev.TimeZone)
		}
		if ev.ColorID != "" {
			ve.SetProperty(ical.ComponentProperty(icsPropColor), ev.ColorID)
		}
		for _, k := range ev.Annotations.Keys() {
			ve.SetProperty(ical.ComponentProperty(annotationProp(k)), ev.Annotations[k])
		}
	}

	return writeFileAtomic(s.path, []byte(cal.Serialize()))
}

func eventFromVEvent(ve *ical.VEvent) (Event, error) {
	ev := Event{ID: ve.Id(), Annotations: Annotations{}}
	if ev.ID == "" {
		return ev, errors.New("missing UID")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, fmt.Errorf("uid %s: DTSTART: %w", ev.ID, err)
	}
	end, err := ve.GetEndAt()
	if err != nil {
		end = start
	}
	ev.Start, ev.End = start, end

	for _, p := range ve.Properties {
		switch token := strings.ToUpper(p.IANAToken); {
		case token == string(ical.ComponentPropertySummary):
			ev.Title = unescapeText(p.Value)
		case token == string(ical.ComponentPropertyDescription):
			ev.Description = unescapeText(p.Value)
		case token == icsPropTimeZone:
			ev.TimeZone = p.Value
		case token == icsPropColor:
			ev.ColorID = p.Value
		case strings.HasPrefix(token, icsAnnotationPrefix):
			ev.Annotations[annotationKey(token)] = p.Value
		}
	}
	return ev, nil
}

func annotationProp(key string) string {
	return icsAnnotationPrefix + strings.ToUpper(strings.ReplaceAll(key, "_", "-"))
}

func annotationKey(prop string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(prop, icsAnnotationPrefix), "-", "_"))
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, leaving 0600 permissions.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schoolsync-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
