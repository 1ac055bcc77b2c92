package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/allotment"
	"github.com/shrimpsizemoose/allotter/internal/apperrors"
	"github.com/shrimpsizemoose/allotter/internal/metrics"
	"github.com/shrimpsizemoose/allotter/internal/models"
	"github.com/shrimpsizemoose/allotter/internal/store"
)

type Service struct {
	Config *Config
	Store  store.AllotmentStore
	Auth   *Auth
	Lock   *RunLock
	Engine *allotment.Engine

	now func() time.Time
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := NewStore(config.Database.DSN, config.Database.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	lock, err := NewRunLock(config)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to init run lock: %w", err)
	}

	return NewServiceWith(config, store, lock), nil
}

// NewServiceWith assembles a service from already opened parts.
func NewServiceWith(config *Config, st store.AllotmentStore, lock *RunLock) *Service {
	return &Service{
		Config: config,
		Store:  st,
		Auth:   NewAuth(config),
		Lock:   lock,
		Engine: allotment.NewEngine(config.Allotment.Workers),
		now:    time.Now,
	}
}

// RunAllotment computes a fresh run from the registration tables and makes
// it current. The new run starts unpublished. Only one run executes at a
// time; a concurrent call fails with apperrors.ErrRunInProgress.
func (s *Service) RunAllotment(ctx context.Context) (*models.Run, error) {
	release, err := s.Lock.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrRunInProgress) {
			metrics.RunsTotal.WithLabelValues("rejected").Inc()
		} else {
			metrics.RunsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}
	defer release()

	start := time.Now()
	if timeout := s.Config.RunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	roster, err := s.Store.LoadRoster(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	logger.Debug.Printf("Loaded roster: %d students, %d courses, %d preferences",
		len(roster.Students), len(roster.Courses), len(roster.Preferences))

	res, err := s.Engine.Allot(ctx, roster)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			metrics.RunsTotal.WithLabelValues("invalid").Inc()
			logger.Info.Printf("Allotment run rejected: %v", err)
		} else {
			metrics.RunsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	run := res.Summary
	run.RunID = uuid.NewString()
	run.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	for i := range res.Allotments {
		res.Allotments[i].RunID = run.RunID
	}

	// nothing is written if the caller gave up while we were computing
	if err := ctx.Err(); err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("allotment run abandoned before commit: %w", err)
	}

	if err := s.Store.CommitRun(ctx, &run, res.Allotments); err != nil {
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.RunsTotal.WithLabelValues("committed").Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	recordRunMetrics(&run, res.Allotments)

	logger.Info.Printf("Allotment run %s committed: %d students, %d allotted, %d waitlisted, %d levels, %d warnings",
		run.RunID, run.StudentsProcessed, run.TotalAllotted, run.TotalWaitlisted, res.Levels, len(run.Warnings))
	for _, w := range run.Warnings {
		logger.Debug.Printf("Run %s: %s", run.RunID, w)
	}

	return &run, nil
}

func recordRunMetrics(run *models.Run, rows []models.Allotment) {
	metrics.LastRunStudents.Set(float64(run.StudentsProcessed))
	metrics.LastRunEntries.WithLabelValues(string(models.OutcomeAllotted)).Set(float64(run.TotalAllotted))
	metrics.LastRunEntries.WithLabelValues(string(models.OutcomeWaitlisted)).Set(float64(run.TotalWaitlisted))
	metrics.Published.Set(0)

	seats := make(map[string]int)
	for _, row := range rows {
		if row.Outcome == models.OutcomeAllotted {
			seats[row.CourseID]++
		}
	}
	metrics.CourseSeatsAllotted.Reset()
	for course, n := range seats {
		metrics.CourseSeatsAllotted.WithLabelValues(course).Set(float64(n))
	}
}

// Publish makes a run visible to students. runID is the run the admin
// reviewed; empty means whatever run is current when the toggle applies.
// A run id that is no longer current fails with apperrors.ErrRunSuperseded.
func (s *Service) Publish(ctx context.Context, runID string) error {
	return s.setPublished(ctx, runID, true)
}

func (s *Service) Unpublish(ctx context.Context, runID string) error {
	return s.setPublished(ctx, runID, false)
}

func (s *Service) setPublished(ctx context.Context, runID string, published bool) error {
	release, err := s.Lock.Hold(ctx)
	if err != nil {
		return err
	}
	defer release()

	state, err := s.Store.PublicationState(ctx)
	if err != nil {
		return err
	}
	if !state.HasRun() {
		return apperrors.ErrNoRun
	}
	if runID != "" && runID != *state.RunID {
		return apperrors.ErrRunSuperseded
	}

	// keyed by run id so a commit landing after the read above is not
	// published by accident
	if err := s.Store.SetPublished(ctx, *state.RunID, published); err != nil {
		return err
	}

	if published {
		metrics.Published.Set(1)
	} else {
		metrics.Published.Set(0)
	}
	logger.Info.Printf("Allotment run %s published=%t", *state.RunID, published)
	return nil
}

func (s *Service) Status(ctx context.Context) (*models.PublicationState, error) {
	return s.Store.PublicationState(ctx)
}

// StudentResult is what a student sees: the current run's rows split by
// outcome, or empty lists while nothing is published.
func (s *Service) StudentResult(ctx context.Context, rollNo string) (*models.StudentResult, error) {
	rows, err := s.Store.StudentAllotments(ctx, rollNo)
	if err != nil {
		return nil, err
	}

	result := &models.StudentResult{
		Allotted:   []models.StudentAllotment{},
		Waitlisted: []models.StudentAllotment{},
	}

	if len(rows) > 0 {
		result.Published = true
	} else {
		state, err := s.Store.PublicationState(ctx)
		if err != nil {
			return nil, err
		}
		result.Published = state.Published && state.HasRun()
	}

	for _, row := range rows {
		row.Status = strings.ToLower(string(row.Outcome))
		row.EnrollmentDate = time.UnixMilli(row.RunCreatedAt).UTC().Format(s.Config.Display.TimestampFormat)
		switch row.Outcome {
		case models.OutcomeAllotted:
			result.Allotted = append(result.Allotted, row)
		case models.OutcomeWaitlisted:
			result.Waitlisted = append(result.Waitlisted, row)
		}
	}

	return result, nil
}

// CurrentRunDetails is the admin view of the current run, published or not.
// Summary, rows and publication flag always come from the same run.
func (s *Service) CurrentRunDetails(ctx context.Context) (*models.RunSnapshot, error) {
	snap, err := s.Store.RunSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, apperrors.ErrNoRun
	}
	if snap.Allotments == nil {
		snap.Allotments = []models.Allotment{}
	}
	return snap, nil
}

func (s *Service) CourseSeats(ctx context.Context) ([]models.CourseSeats, error) {
	return s.Store.CourseSeats(ctx)
}

func (s *Service) Preferences(ctx context.Context, rollNo string) ([]models.Preference, error) {
	prefs, err := s.Store.ListPreferences(ctx, rollNo)
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = []models.Preference{}
	}
	return prefs, nil
}

// SubmitPreferences replaces a student's ranked list. Ranks must be 1..n,
// every course must be offered and no elective slot may hold more choices
// than its max_choices.
func (s *Service) SubmitPreferences(ctx context.Context, rollNo string, prefs []models.Preference) error {
	courses, err := s.Store.ListCourses(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.Course, len(courses))
	for i := range courses {
		byID[courses[i].CourseID] = &courses[i]
	}

	validate := validator.New()
	var reasons []string
	ranks := make(map[int]bool, len(prefs))
	seen := make(map[string]bool, len(prefs))
	perSlot := make(map[string]int)

	for i := range prefs {
		p := &prefs[i]
		p.RollNo = rollNo
		if err := validate.Struct(p); err != nil {
			reasons = append(reasons, fmt.Sprintf("preference %d: %v", i+1, err))
			continue
		}
		if ranks[p.Rank] {
			reasons = append(reasons, fmt.Sprintf("rank %d used more than once", p.Rank))
		}
		ranks[p.Rank] = true
		if p.Rank > len(prefs) {
			reasons = append(reasons, fmt.Sprintf("rank %d is out of range 1..%d", p.Rank, len(prefs)))
		}

		if seen[p.CourseID] {
			reasons = append(reasons, fmt.Sprintf("course %s listed more than once", p.CourseID))
			continue
		}
		seen[p.CourseID] = true

		c, ok := byID[p.CourseID]
		if !ok || !c.Active {
			reasons = append(reasons, fmt.Sprintf("course %s is not offered", p.CourseID))
			continue
		}
		if c.IsElective() {
			slot := c.Slot()
			perSlot[slot]++
			if perSlot[slot] == c.Quota()+1 {
				reasons = append(reasons, fmt.Sprintf("slot %s allows at most %d choices", slot, c.Quota()))
			}
		}
	}

	if len(reasons) > 0 {
		return &allotment.ValidationError{Reasons: reasons}
	}

	if err := s.Store.ReplacePreferences(ctx, rollNo, prefs); err != nil {
		return err
	}
	logger.Debug.Printf("Stored %d preferences for %s", len(prefs), rollNo)
	return nil
}

func (s *Service) Close() error {
	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Lock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("run lock: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
