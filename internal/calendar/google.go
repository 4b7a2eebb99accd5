package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "schoolsync/internal/log"
)

// GoogleConfig configures the Google Calendar store.
type GoogleConfig struct {
	CalendarID string

	// CredentialsFile is a service account key file. CredentialsJSON takes
	// precedence when both are set.
	CredentialsFile string
	CredentialsJSON []byte

	// RequestsPerSecond paces API calls. Zero selects 5.
	RequestsPerSecond float64

	// PopupReminders are the per-event popup notifications, in minutes.
	PopupReminders []int64

	// Now overrides the clock used for the search window.
	Now func() time.Time

	// ClientOptions are appended to the generated options. Tests use them
	// to point the client at a local server.
	ClientOptions []option.ClientOption
}

// DefaultPopupReminders notify one hour and one day ahead.
var DefaultPopupReminders = []int64{60, 1440}

// GoogleStore implements Store on top of the Google Calendar v3 API.
type GoogleStore struct {
	svc        *gcal.Service
	calendarID string
	limiter    *rate.Limiter
	reminders  []int64
	now        func() time.Time
}

// NewGoogleStore builds the API client and probes the calendar so that
// bad credentials fail here rather than on the first write.
func NewGoogleStore(ctx context.Context, cfg GoogleConfig) (*GoogleStore, error) {
	if cfg.CalendarID == "" {
		return nil, errors.New("google calendar: calendar id is empty")
	}

	opts := []option.ClientOption{option.WithScopes(gcal.CalendarScope)}
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, cfg.ClientOptions...)

	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar: create service: %w: %v", ErrAuth, err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	reminders := cfg.PopupReminders
	if reminders == nil {
		reminders = DefaultPopupReminders
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &GoogleStore{
		svc:        svc,
		calendarID: cfg.CalendarID,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		reminders:  reminders,
		now:        now,
	}
	if err := s.probe(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GoogleStore) probe(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	info, err := s.svc.Calendars.Get(s.calendarID).Context(ctx).Do()
	if err != nil {
		if isAuthStatus(err) {
			return fmt.Errorf("google calendar %q: %w: %v", s.calendarID, ErrAuth, err)
		}
		return fmt.Errorf("google calendar %q: %w", s.calendarID, err)
	}
	appLog.Info("google calendar ready", "calendar", info.Summary)
	return nil
}

func (s *GoogleStore) FindByContentHash(ctx context.Context, hash string) (*Event, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	now := s.now()
	res, err := s.svc.Events.List(s.calendarID).
		PrivateExtendedProperty(KeyContentHash + "=" + hash).
		TimeMin(now.Add(-SearchWindow).Format(time.RFC3339)).
		TimeMax(now.Add(SearchWindow).Format(time.RFC3339)).
		SingleEvents(true).
		MaxResults(10).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("google calendar: search %s: %w", appLog.ShortHash(hash), err)
	}
	for _, item := range res.Items {
		ev := fromAPIEvent(item)
		if ev.ContentHash() == hash {
			return &ev, nil
		}
	}
	return nil, nil
}

func (s *GoogleStore) Create(ctx context.Context, ev Event) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	created, err := s.svc.Events.Insert(s.calendarID, s.toAPIEvent(ev)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("google calendar: insert %q: %w", ev.Title, err)
	}
	return created.Id, nil
}

func (s *GoogleStore) Update(ctx context.Context, id string, ev Event) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.svc.Events.Update(s.calendarID, id, s.toAPIEvent(ev)).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return fmt.Errorf("update %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("google calendar: update %s: %w", id, err)
	}
	return nil
}

func (s *GoogleStore) toAPIEvent(ev Event) *gcal.Event {
	overrides := make([]*gcal.EventReminder, 0, len(s.reminders))
	for _, m := range s.reminders {
		overrides = append(overrides, &gcal.EventReminder{Method: "popup", Minutes: m})
	}
	private := make(map[string]string, len(ev.Annotations))
	for k, v := range ev.Annotations {
		private[k] = v
	}
	return &gcal.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
		ColorId:     ev.ColorID,
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			Overrides:       overrides,
			ForceSendFields: []string{"UseDefault"},
		},
		ExtendedProperties: &gcal.EventExtendedProperties{Private: private},
	}
}

func fromAPIEvent(item *gcal.Event) Event {
	ev := Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		ColorID:     item.ColorId,
		Annotations: Annotations{},
	}
	if item.Start != nil {
		ev.Start = parseAPITime(item.Start)
		ev.TimeZone = item.Start.TimeZone
	}
	if item.End != nil {
		ev.End = parseAPITime(item.End)
	}
	if item.ExtendedProperties != nil {
		for k, v := range item.ExtendedProperties.Private {
			ev.Annotations[k] = v
		}
	}
	return ev
}

func parseAPITime(dt *gcal.EventDateTime) time.Time {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse(time.DateOnly, dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isAuthStatus(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
