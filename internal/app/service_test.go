package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/allotter/internal/allotment"
	"github.com/shrimpsizemoose/allotter/internal/apperrors"
	"github.com/shrimpsizemoose/allotter/internal/models"
	"github.com/shrimpsizemoose/allotter/internal/store"
	"github.com/shrimpsizemoose/allotter/internal/store/sqlite"
)

func ptr[T any](v T) *T { return &v }

func testConfig() *Config {
	var config Config
	config.Server.Port = ":0"
	config.Auth.JWTSecret = "test-secret"
	config.Allotment.Workers = 4
	config.applyDefaults()
	return &config
}

func setupTestService(t *testing.T) (*Service, func()) {
	s, err := sqlite.NewSQLiteStore(":memory:", "../../migrations")
	require.NoError(t, err, "Failed to create store")

	svc := NewServiceWith(testConfig(), s, NewLocalRunLock())
	svc.now = func() time.Time { return time.Date(2024, 7, 1, 10, 30, 0, 0, time.UTC) }

	cleanup := func() {
		require.NoError(t, svc.Close(), "Failed to close service")
	}
	return svc, cleanup
}

// seedRoster registers two students competing for one core seat and one
// elective slot with a single choice.
func seedRoster(t *testing.T, svc *Service) {
	ctx := context.Background()

	students := []models.Student{
		{RollNo: "21CS001", Name: "Asha", CGPA: ptr(9.0), Status: models.StudentActive},
		{RollNo: "21CS002", Name: "Bilal", CGPA: ptr(8.0), Status: models.StudentActive},
	}
	for i := range students {
		require.NoError(t, svc.Store.UpsertStudent(ctx, &students[i]))
	}

	courses := []models.Course{
		{CourseID: "CS101", CourseName: "Programming", Credits: 4, Capacity: 1, CourseType: models.CourseCore, Active: true},
		{CourseID: "ML201", CourseName: "Machine Learning", Credits: 3, Capacity: 2, CourseType: models.CourseElective, ElectiveSlot: ptr("E1"), MaxChoices: ptr(1), Active: true},
	}
	for i := range courses {
		require.NoError(t, svc.Store.UpsertCourse(ctx, &courses[i]))
	}

	for _, roll := range []string{"21CS001", "21CS002"} {
		require.NoError(t, svc.SubmitPreferences(ctx, roll, []models.Preference{
			{CourseID: "CS101", Rank: 1},
			{CourseID: "ML201", Rank: 2},
		}))
	}
}

func TestRunAllotment_Lifecycle(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	seedRoster(t, svc)
	ctx := context.Background()

	run, err := svc.RunAllotment(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 2, run.StudentsProcessed)
	assert.Equal(t, 3, run.TotalAllotted)
	assert.Equal(t, 1, run.TotalWaitlisted)

	t.Run("new run starts unpublished", func(t *testing.T) {
		state, err := svc.Status(ctx)
		require.NoError(t, err)
		require.True(t, state.HasRun())
		assert.Equal(t, run.RunID, *state.RunID)
		assert.False(t, state.Published)

		res, err := svc.StudentResult(ctx, "21CS001")
		require.NoError(t, err)
		assert.False(t, res.Published)
		assert.Empty(t, res.Allotted)
		assert.Empty(t, res.Waitlisted)
	})

	t.Run("admin sees rows regardless of publication", func(t *testing.T) {
		details, err := svc.CurrentRunDetails(ctx)
		require.NoError(t, err)
		assert.Equal(t, run.RunID, details.Run.RunID)
		assert.False(t, details.Published)
		assert.Len(t, details.Allotments, 4)
	})

	require.NoError(t, svc.Publish(ctx, ""))

	t.Run("published results are visible", func(t *testing.T) {
		res, err := svc.StudentResult(ctx, "21CS002")
		require.NoError(t, err)
		assert.True(t, res.Published)
		require.Len(t, res.Allotted, 1)
		assert.Equal(t, "ML201", res.Allotted[0].CourseID)
		assert.Equal(t, "Machine Learning", res.Allotted[0].CourseName)
		assert.Equal(t, "allotted", res.Allotted[0].Status)
		assert.Equal(t, "2024-07-01 10:30:00", res.Allotted[0].EnrollmentDate)
		require.Len(t, res.Waitlisted, 1)
		assert.Equal(t, "CS101", res.Waitlisted[0].CourseID)
		assert.Equal(t, "waitlisted", res.Waitlisted[0].Status)
	})

	t.Run("unpublish hides without touching rows", func(t *testing.T) {
		require.NoError(t, svc.Unpublish(ctx, ""))

		res, err := svc.StudentResult(ctx, "21CS002")
		require.NoError(t, err)
		assert.False(t, res.Published)
		assert.Empty(t, res.Allotted)

		rows, err := svc.Store.CurrentAllotments(ctx)
		require.NoError(t, err)
		assert.Len(t, rows, 4)
	})

	t.Run("seat summary", func(t *testing.T) {
		seats, err := svc.CourseSeats(ctx)
		require.NoError(t, err)
		require.Len(t, seats, 2)
		assert.Equal(t, models.CourseSeats{CourseID: "CS101", CourseName: "Programming", Capacity: 1, SeatsAllotted: 1, SeatsAvailable: 0, Waitlisted: 1}, seats[0])
		assert.Equal(t, models.CourseSeats{CourseID: "ML201", CourseName: "Machine Learning", Capacity: 2, SeatsAllotted: 2, SeatsAvailable: 0, Waitlisted: 0}, seats[1])
	})
}

func TestRunAllotment_RerunFollowsMeritAndResetsPublication(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	seedRoster(t, svc)
	ctx := context.Background()

	first, err := svc.RunAllotment(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Publish(ctx, ""))

	require.NoError(t, svc.Store.UpsertStudent(ctx, &models.Student{
		RollNo: "21CS002", Name: "Bilal", CGPA: ptr(9.5), Status: models.StudentActive,
	}))

	second, err := svc.RunAllotment(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	state, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, *state.RunID)
	assert.False(t, state.Published)

	details, err := svc.CurrentRunDetails(ctx)
	require.NoError(t, err)
	for _, row := range details.Allotments {
		assert.Equal(t, second.RunID, row.RunID)
		if row.CourseID == "CS101" {
			want := models.OutcomeWaitlisted
			if row.RollNo == "21CS002" {
				want = models.OutcomeAllotted
			}
			assert.Equal(t, want, row.Outcome, row.RollNo)
		}
	}
}

func TestRunAllotment_RejectsConcurrentRun(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	seedRoster(t, svc)
	ctx := context.Background()

	release, err := svc.Lock.TryAcquire(ctx)
	require.NoError(t, err)

	_, err = svc.RunAllotment(ctx)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	release()

	_, err = svc.RunAllotment(ctx)
	assert.NoError(t, err)
}

func TestPublish_WaitsForRunningCommit(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	seedRoster(t, svc)
	ctx := context.Background()

	_, err := svc.RunAllotment(ctx)
	require.NoError(t, err)

	release, err := svc.Lock.TryAcquire(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svc.Publish(ctx, "") }()

	select {
	case <-done:
		t.Fatal("publish finished while a run held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publish did not finish after the run released the lock")
	}

	state, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, state.Published)
}

func TestPublish_WithoutRun(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	assert.ErrorIs(t, svc.Publish(ctx, ""), apperrors.ErrNoRun)
	assert.ErrorIs(t, svc.Unpublish(ctx, ""), apperrors.ErrNoRun)

	_, err := svc.CurrentRunDetails(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNoRun)

	res, err := svc.StudentResult(ctx, "21CS001")
	require.NoError(t, err)
	assert.False(t, res.Published)
	assert.NotNil(t, res.Allotted)
	assert.NotNil(t, res.Waitlisted)
}

func TestRunAllotment_InvalidRosterKeepsPreviousRun(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	seedRoster(t, svc)
	ctx := context.Background()

	first, err := svc.RunAllotment(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Store.UpsertCourse(ctx, &models.Course{
		CourseID: "CS102", CourseName: "Broken", Capacity: -1, CourseType: models.CourseCore, Active: true,
	}))

	_, err = svc.RunAllotment(ctx)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var verr *allotment.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Reasons)

	run, err := svc.Store.CurrentRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, run.RunID)
}

type MockStore struct {
	store.AllotmentStore
	mock.Mock
}

func (m *MockStore) LoadRoster(ctx context.Context) (*models.Roster, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Roster), args.Error(1)
}

func (m *MockStore) CommitRun(ctx context.Context, run *models.Run, allotments []models.Allotment) error {
	args := m.Called(ctx, run, allotments)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	return nil
}

func TestRunAllotment_CommitFailureReleasesLock(t *testing.T) {
	roster := &models.Roster{
		Students:    []models.Student{{RollNo: "21CS001", CGPA: ptr(8.0), Status: models.StudentActive}},
		Courses:     []models.Course{{CourseID: "CS101", Capacity: 1, CourseType: models.CourseCore, Active: true}},
		Preferences: []models.Preference{{RollNo: "21CS001", CourseID: "CS101", Rank: 1}},
	}

	st := new(MockStore)
	st.On("LoadRoster", mock.Anything).Return(roster, nil)
	st.On("CommitRun", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	st.On("CommitRun", mock.Anything, mock.AnythingOfType("*models.Run"), mock.Anything).Return(nil).Once()

	svc := NewServiceWith(testConfig(), st, NewLocalRunLock())
	ctx := context.Background()

	_, err := svc.RunAllotment(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrRunInProgress)
	assert.Contains(t, err.Error(), "disk full")

	run, err := svc.RunAllotment(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.TotalAllotted)

	st.AssertNumberOfCalls(t, "LoadRoster", 2)
	st.AssertExpectations(t)
}

func TestSubmitPreferences(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	seedRoster(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Store.UpsertCourse(ctx, &models.Course{
		CourseID: "DL301", CourseName: "Deep Learning", Capacity: 5, CourseType: models.CourseElective, ElectiveSlot: ptr("E1"), MaxChoices: ptr(1), Active: true,
	}))
	require.NoError(t, svc.Store.UpsertCourse(ctx, &models.Course{
		CourseID: "OLD100", CourseName: "Retired", Capacity: 5, CourseType: models.CourseCore, Active: false,
	}))

	tests := []struct {
		name    string
		prefs   []models.Preference
		wantErr bool
	}{
		{
			name:  "valid list",
			prefs: []models.Preference{{CourseID: "ML201", Rank: 2}, {CourseID: "CS101", Rank: 1}},
		},
		{
			name:  "empty list",
			prefs: []models.Preference{},
		},
		{
			name:    "gap in ranks",
			prefs:   []models.Preference{{CourseID: "CS101", Rank: 1}, {CourseID: "ML201", Rank: 3}},
			wantErr: true,
		},
		{
			name:    "duplicate rank",
			prefs:   []models.Preference{{CourseID: "CS101", Rank: 1}, {CourseID: "ML201", Rank: 1}},
			wantErr: true,
		},
		{
			name:    "duplicate course",
			prefs:   []models.Preference{{CourseID: "CS101", Rank: 1}, {CourseID: "CS101", Rank: 2}},
			wantErr: true,
		},
		{
			name:    "course not offered",
			prefs:   []models.Preference{{CourseID: "OLD100", Rank: 1}},
			wantErr: true,
		},
		{
			name:    "unknown course",
			prefs:   []models.Preference{{CourseID: "NOPE", Rank: 1}},
			wantErr: true,
		},
		{
			name:    "slot over max choices",
			prefs:   []models.Preference{{CourseID: "ML201", Rank: 1}, {CourseID: "DL301", Rank: 2}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := svc.Preferences(ctx, "21CS001")
			require.NoError(t, err)

			err = svc.SubmitPreferences(ctx, "21CS001", tt.prefs)
			after, lerr := svc.Preferences(ctx, "21CS001")
			require.NoError(t, lerr)

			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrValidation)
				assert.Equal(t, before, after)
				return
			}
			require.NoError(t, err)
			assert.Len(t, after, len(tt.prefs))
			for i, p := range after {
				assert.Equal(t, i+1, p.Rank)
				assert.Equal(t, "21CS001", p.RollNo)
			}
		})
	}
}

// interleavingStore lets a commit from another instance land right after
// one of the named reads returns.
type interleavingStore struct {
	*sqlite.SQLiteStore
	after map[string]func()
}

func (s *interleavingStore) fire(name string) {
	if f := s.after[name]; f != nil {
		delete(s.after, name)
		f()
	}
}

func (s *interleavingStore) PublicationState(ctx context.Context) (*models.PublicationState, error) {
	state, err := s.SQLiteStore.PublicationState(ctx)
	s.fire("PublicationState")
	return state, err
}

func (s *interleavingStore) CurrentRun(ctx context.Context) (*models.Run, error) {
	run, err := s.SQLiteStore.CurrentRun(ctx)
	s.fire("CurrentRun")
	return run, err
}

func (s *interleavingStore) CurrentAllotments(ctx context.Context) ([]models.Allotment, error) {
	rows, err := s.SQLiteStore.CurrentAllotments(ctx)
	s.fire("CurrentAllotments")
	return rows, err
}

func (s *interleavingStore) RunSnapshot(ctx context.Context) (*models.RunSnapshot, error) {
	snap, err := s.SQLiteStore.RunSnapshot(ctx)
	s.fire("RunSnapshot")
	return snap, err
}

func setupInterleavingService(t *testing.T) (*Service, *interleavingStore, func()) {
	s, err := sqlite.NewSQLiteStore(":memory:", "../../migrations")
	require.NoError(t, err, "Failed to create store")

	st := &interleavingStore{SQLiteStore: s, after: map[string]func(){}}
	svc := NewServiceWith(testConfig(), st, NewLocalRunLock())
	seedRoster(t, svc)

	return svc, st, func() { require.NoError(t, svc.Close()) }
}

// commitElsewhere commits run-2 behind the service's back, the way another
// instance would.
func commitElsewhere(t *testing.T, st *interleavingStore) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			run := &models.Run{RunID: "run-2", StudentsProcessed: 2, TotalAllotted: 1, CreatedAt: time.Now().UTC()}
			rows := []models.Allotment{
				{RunID: "run-2", RollNo: "21CS002", CourseID: "CS101", Outcome: models.OutcomeAllotted, Rank: 1, Level: 1},
			}
			require.NoError(t, st.SQLiteStore.CommitRun(context.Background(), run, rows))
		})
	}
}

func TestCurrentRunDetails_CommitBetweenReads(t *testing.T) {
	svc, st, cleanup := setupInterleavingService(t)
	defer cleanup()
	ctx := context.Background()

	first, err := svc.RunAllotment(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Publish(ctx, first.RunID))

	commit := commitElsewhere(t, st)
	for _, read := range []string{"PublicationState", "CurrentRun", "CurrentAllotments", "RunSnapshot"} {
		st.after[read] = commit
	}

	details, err := svc.CurrentRunDetails(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.RunID, details.Run.RunID)
	assert.True(t, details.Published)
	assert.Len(t, details.Allotments, first.TotalAllotted+first.TotalWaitlisted)
	for _, row := range details.Allotments {
		assert.Equal(t, details.Run.RunID, row.RunID)
	}

	state, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", *state.RunID)
	assert.False(t, state.Published)

	details, err = svc.CurrentRunDetails(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", details.Run.RunID)
	assert.False(t, details.Published)
	require.Len(t, details.Allotments, 1)
	assert.Equal(t, "run-2", details.Allotments[0].RunID)
}

func TestPublish_CommitAfterStateRead(t *testing.T) {
	svc, st, cleanup := setupInterleavingService(t)
	defer cleanup()
	ctx := context.Background()

	first, err := svc.RunAllotment(ctx)
	require.NoError(t, err)

	st.after["PublicationState"] = commitElsewhere(t, st)

	err = svc.Publish(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrRunSuperseded)

	state, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", *state.RunID)
	assert.False(t, state.Published, "a run nobody reviewed must stay hidden")

	assert.ErrorIs(t, svc.Publish(ctx, first.RunID), apperrors.ErrRunSuperseded)
	require.NoError(t, svc.Publish(ctx, "run-2"))

	state, err = svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, state.Published)
}
