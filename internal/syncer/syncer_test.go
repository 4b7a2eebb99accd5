package syncer

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolsync/internal/calendar"
	"schoolsync/internal/model"
	"schoolsync/internal/normalize"
	"schoolsync/internal/source"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func day(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
}

func testOptions() Options {
	o := DefaultOptions()
	o.Now = fixedNow
	return o
}

// recordingStore counts the calls reaching the destination and can fail
// writes for one title.
type recordingStore struct {
	calendar.Store
	finds, creates, updates int
	failTitle               string
}

func (r *recordingStore) FindByContentHash(ctx context.Context, hash string) (*calendar.Event, error) {
	r.finds++
	return r.Store.FindByContentHash(ctx, hash)
}

func (r *recordingStore) Create(ctx context.Context, ev calendar.Event) (string, error) {
	r.creates++
	if r.failTitle != "" && ev.Title == r.failTitle {
		return "", errors.New("backend unavailable")
	}
	return r.Store.Create(ctx, ev)
}

func (r *recordingStore) Update(ctx context.Context, id string, ev calendar.Event) error {
	r.updates++
	return r.Store.Update(ctx, id, ev)
}

func sampleHomework() []model.Assignment {
	return normalize.New(nil).Homework([]source.Homework{
		{Subject: "Maths", Description: "Exercice 4 page 12", Date: day(5)},
		{Subject: "Anglais", Description: "Lire le texte", Date: day(7)},
	})
}

func sampleExam(date time.Time) []model.Assignment {
	return normalize.New(nil).Evaluations([]source.Evaluation{
		{Subject: "Physique", Name: "Optique", Date: date, Teacher: "M. Curie", Coefficient: "2"},
	})
}

func remindersIn(events []calendar.Event) []calendar.Event {
	var out []calendar.Event
	for _, ev := range events {
		if ev.Annotations[calendar.KeyAssignmentType] == string(model.KindStudyReminder) {
			out = append(out, ev)
		}
	}
	return out
}

func TestDecide(t *testing.T) {
	assert.Equal(t, ActionCreate, Decide(nil, "Math: New"))
	assert.Equal(t, ActionUpdate, Decide(&calendar.Event{Title: "Math: Old"}, "Math: New"))
	assert.Equal(t, ActionSkip, Decide(&calendar.Event{Title: "Math: New"}, "Math: New"))
	assert.Equal(t, "update", ActionUpdate.String())
}

func TestSyncIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := calendar.NewMemoryStore(fixedNow)
	opts := testOptions()
	opts.StudyRemindersEnabled = false
	s := New(store, opts)

	homework, exams := sampleHomework(), sampleExam(day(20))

	first := s.Sync(ctx, homework, exams)
	assert.Equal(t, 2, first.HomeworkCreated)
	assert.Equal(t, 0, first.HomeworkUpdated)
	assert.Equal(t, 0, first.HomeworkSkipped)
	assert.Equal(t, 1, first.ExamCreated)
	assert.Equal(t, 3, first.TotalCreated)
	assert.Equal(t, 2, first.TotalHomework)
	assert.Equal(t, 1, first.TotalExams)

	second := s.Sync(ctx, homework, exams)
	assert.Equal(t, 0, second.HomeworkCreated)
	assert.Equal(t, 0, second.HomeworkUpdated)
	assert.Equal(t, 2, second.HomeworkSkipped)
	assert.Equal(t, 0, second.ExamCreated)
	assert.Equal(t, 1, second.ExamSkipped)
	assert.Equal(t, 0, second.TotalCreated)

	assert.Equal(t, 3, store.Len())
}

func TestSyncUpdatesStaleTitle(t *testing.T) {
	ctx := context.Background()
	store := calendar.NewMemoryStore(fixedNow)
	homework := sampleHomework()[:1]

	stale := calendar.Event{
		Title:       "Maths: Old",
		Start:       testNow,
		End:         testNow.Add(time.Hour),
		Annotations: calendar.NewAnnotations(homework[0].ContentHash, model.KindHomework),
	}
	id, err := store.Create(ctx, stale)
	require.NoError(t, err)

	res := New(store, testOptions()).Sync(ctx, homework, nil)
	assert.Equal(t, 1, res.HomeworkUpdated)
	assert.Equal(t, 0, res.HomeworkCreated)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, "Maths: Exercice 4 page 12", events[0].Title)
}

func TestSyncEventLayout(t *testing.T) {
	ctx := context.Background()
	store := calendar.NewMemoryStore(fixedNow)
	opts := testOptions()
	opts.StudyRemindersEnabled = false

	New(store, opts).Sync(ctx, sampleHomework()[:1], sampleExam(day(20)))
	events := store.Events()
	require.Len(t, events, 2)

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	hw := events[0]
	assert.True(t, hw.Start.Equal(time.Date(2025, 3, 5, 18, 0, 0, 0, paris)))
	assert.Equal(t, 2*time.Hour, hw.End.Sub(hw.Start))
	assert.Equal(t, "Europe/Paris", hw.TimeZone)
	assert.Equal(t, "11", hw.ColorID)
	assert.Equal(t, "Maths", hw.Annotations[calendar.KeySubject])
	assert.Equal(t, "2025-03-05", hw.Annotations[calendar.KeyDueDate])
	assert.Equal(t, string(model.SourceHomework), hw.Annotations[calendar.KeyDataSource])
	assert.Equal(t, calendar.SourceTag, hw.Annotations[calendar.KeySource])
	assert.Equal(t, calendar.SchemaVersion, hw.Annotations[calendar.KeySchemaVersion])
	assert.Contains(t, hw.Description, "Due date: 2025-03-05")

	exam := events[1]
	assert.True(t, exam.Start.Equal(time.Date(2025, 3, 20, 8, 0, 0, 0, paris)))
	assert.Equal(t, string(model.KindExam), exam.Annotations[calendar.KeyAssignmentType])
	assert.Contains(t, exam.Description, "Teacher: M. Curie")
	assert.Contains(t, exam.Description, "Coefficient: 2")
}

func TestSyncRemindersForExamTenDaysOut(t *testing.T) {
	ctx := context.Background()
	store := calendar.NewMemoryStore(fixedNow)
	exams := sampleExam(day(11))

	res := New(store, testOptions()).Sync(ctx, nil, exams)
	assert.Equal(t, 1, res.ExamCreated)
	assert.Equal(t, 7, res.RemindersCreated)
	assert.Equal(t, 8, res.TotalCreated)

	reminders := remindersIn(store.Events())
	require.Len(t, reminders, 7)

	hashes := map[string]struct{}{}
	var days []int
	for _, ev := range reminders {
		hashes[ev.ContentHash()] = struct{}{}
		assert.Equal(t, exams[0].ContentHash, ev.Annotations[calendar.KeyParentExamHash])
		n, ok := ev.Annotations.DaysBefore()
		require.True(t, ok)
		days = append(days, n)
	}
	assert.Len(t, hashes, 7)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, days)

	final := reminders[0]
	assert.Equal(t, "Final review: Physique: Optique", final.Title)
	assert.Equal(t, "Study reminder (2 days): Physique: Optique", reminders[1].Title)
	assert.Equal(t, "10", final.ColorID)

	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.True(t, final.Start.Equal(time.Date(2025, 3, 10, 19, 0, 0, 0, newYork)))
	assert.Equal(t, "Europe/Paris", final.Start.Location().String())
	assert.Equal(t, time.Hour, final.End.Sub(final.Start))
}

func TestSyncRemindersSkipPastDates(t *testing.T) {
	ctx := context.Background()
	store := calendar.NewMemoryStore(fixedNow)

	res := New(store, testOptions()).Sync(ctx, nil, sampleExam(day(4)))
	assert.Equal(t, 3, res.RemindersCreated)

	var days []int
	for _, ev := range remindersIn(store.Events()) {
		n, _ := ev.Annotations.DaysBefore()
		days = append(days, n)
	}
	assert.Equal(t, []int{1, 2, 3}, days)
}

func TestSyncNoRemindersForTodayOrDisabled(t *testing.T) {
	ctx := context.Background()

	store := calendar.NewMemoryStore(fixedNow)
	res := New(store, testOptions()).Sync(ctx, nil, sampleExam(day(1)))
	assert.Equal(t, 1, res.ExamCreated)
	assert.Equal(t, 0, res.RemindersCreated)

	opts := testOptions()
	opts.StudyRemindersEnabled = false
	store = calendar.NewMemoryStore(fixedNow)
	res = New(store, opts).Sync(ctx, nil, sampleExam(day(20)))
	assert.Equal(t, 0, res.RemindersCreated)
	assert.Equal(t, 1, store.Len())
}

func TestSyncExistingReminderIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := calendar.NewMemoryStore(fixedNow)
	exams := sampleExam(day(11))

	first := New(store, testOptions()).Sync(ctx, nil, exams)
	require.Equal(t, 7, first.RemindersCreated)

	// Drop the exam itself so the next pass sees it as new again.
	other := calendar.NewMemoryStore(fixedNow)
	for _, ev := range remindersIn(store.Events()) {
		_, err := other.Create(ctx, ev)
		require.NoError(t, err)
	}

	second := New(other, testOptions()).Sync(ctx, nil, exams)
	assert.Equal(t, 1, second.ExamCreated)
	assert.Equal(t, 0, second.RemindersCreated)
	assert.Equal(t, 7, second.RemindersSkipped)
}

func TestSyncExamDisabled(t *testing.T) {
	opts := testOptions()
	opts.ExamSyncEnabled = false
	store := calendar.NewMemoryStore(fixedNow)

	res := New(store, opts).Sync(context.Background(), sampleHomework(), sampleExam(day(20)))
	assert.Equal(t, 2, res.HomeworkCreated)
	assert.Equal(t, 0, res.ExamCreated)
	assert.Equal(t, 0, res.TotalExams)
	assert.Equal(t, 2, store.Len())
}

func seededStore(t *testing.T, hash string) *calendar.MemoryStore {
	t.Helper()
	store := calendar.NewMemoryStore(fixedNow)
	_, err := store.Create(context.Background(), calendar.Event{
		Title:       "Maths: Old",
		Start:       day(5),
		End:         day(5).Add(time.Hour),
		Annotations: calendar.NewAnnotations(hash, model.KindHomework),
	})
	require.NoError(t, err)
	return store
}

func TestSyncDryRunMatchesLive(t *testing.T) {
	ctx := context.Background()
	homework := sampleHomework()
	// The same homework twice: the second copy must be a skip in both modes.
	homework = append(homework, homework[1])
	exams := sampleExam(day(11))

	dryOpts := testOptions()
	dryOpts.DryRun = true
	dryStore := &recordingStore{Store: seededStore(t, homework[0].ContentHash)}
	dry := New(dryStore, dryOpts).Sync(ctx, homework, exams)

	assert.Zero(t, dryStore.creates)
	assert.Zero(t, dryStore.updates)
	assert.True(t, dry.DryRun)

	liveStore := &recordingStore{Store: seededStore(t, homework[0].ContentHash)}
	live := New(liveStore, testOptions()).Sync(ctx, homework, exams)

	assert.Equal(t, 1, live.HomeworkCreated)
	assert.Equal(t, 1, live.HomeworkUpdated)
	assert.Equal(t, 1, live.HomeworkSkipped)
	assert.Equal(t, 7, live.RemindersCreated)

	dry.DryRun = false
	assert.Equal(t, live, dry)
}

func TestSyncMissingHashIsPerItemFailure(t *testing.T) {
	store := calendar.NewMemoryStore(fixedNow)
	homework := append([]model.Assignment{{
		Subject:     "Histoire",
		Description: "Chapitre 3",
		Date:        day(6),
		Kind:        model.KindHomework,
	}}, sampleHomework()...)

	res := New(store, testOptions()).Sync(context.Background(), homework, nil)
	assert.Equal(t, 1, res.HomeworkFailed)
	assert.Equal(t, 2, res.HomeworkCreated)
	assert.Equal(t, 2, store.Len())
}

func TestSyncContinuesAfterWriteFailure(t *testing.T) {
	store := &recordingStore{
		Store:     calendar.NewMemoryStore(fixedNow),
		failTitle: "Maths: Exercice 4 page 12",
	}

	res := New(store, testOptions()).Sync(context.Background(), sampleHomework(), nil)
	assert.Equal(t, 1, res.HomeworkFailed)
	assert.Equal(t, 1, res.HomeworkCreated)
	assert.Equal(t, 2, store.creates)
}

func TestOptionsRanges(t *testing.T) {
	o := testOptions()

	from, to := o.HomeworkRange()
	assert.Equal(t, day(1), from)
	assert.Equal(t, day(31), to)

	from, to = o.ExamRange()
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, day(31), to)

	o.ExamDaysAhead = 45
	from, to = o.ExamRange()
	assert.Equal(t, day(1), from)
	assert.Equal(t, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), to)
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("07:45")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 7, Minute: 45}, c)
	assert.Equal(t, "07:45", c.String())

	_, err = ParseClock("25:00")
	assert.Error(t, err)
	_, err = ParseClock("six")
	assert.Error(t, err)
}
