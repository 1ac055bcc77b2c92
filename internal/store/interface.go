package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/apperrors"
	"github.com/shrimpsizemoose/allotter/internal/models"
)

type AllotmentStore interface {
	Close() error
	ApplyMigrations(dir string) error

	LoadRoster(ctx context.Context) (*models.Roster, error)
	CommitRun(ctx context.Context, run *models.Run, allotments []models.Allotment) error

	CurrentRun(ctx context.Context) (*models.Run, error)
	CurrentAllotments(ctx context.Context) ([]models.Allotment, error)
	RunSnapshot(ctx context.Context) (*models.RunSnapshot, error)
	StudentAllotments(ctx context.Context, rollNo string) ([]models.StudentAllotment, error)
	CourseSeats(ctx context.Context) ([]models.CourseSeats, error)

	PublicationState(ctx context.Context) (*models.PublicationState, error)
	SetPublished(ctx context.Context, runID string, published bool) error

	UpsertStudent(ctx context.Context, student *models.Student) error
	UpsertCourse(ctx context.Context, course *models.Course) error
	ListCourses(ctx context.Context) ([]models.Course, error)
	ListPreferences(ctx context.Context, rollNo string) ([]models.Preference, error)
	ReplacePreferences(ctx context.Context, rollNo string, prefs []models.Preference) error
}

// rows per INSERT when writing a run; keeps both dialects under their
// bind parameter limits
const insertBatchSize = 500

// BaseStore provides common functionality for different DB implementations
type BaseStore struct {
	DB        *sqlx.DB
	Converter func(string) string
	// LockStateQuery, when set, runs first inside CommitRun to take a row
	// lock on allotment_state.
	LockStateQuery string
}

func (s *BaseStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// ApplyMigrations applies SQL migrations from a directory, translating dialect if needed
func (s *BaseStore) ApplyMigrations(dir string, translateSQL func(string) string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file.Name(), err)
		}

		sql := string(content)
		if translateSQL != nil {
			sql = translateSQL(sql)
		}

		logger.Debug.Printf("Applying migration: %s", file.Name())
		if _, err := s.DB.Exec(sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Name(), err)
		}
	}

	return nil
}

// LoadRoster reads active students, active courses and the preferences of
// active students inside one read transaction, so a run sees one snapshot.
func (s *BaseStore) LoadRoster(ctx context.Context) (*models.Roster, error) {
	tx, err := s.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin roster read: %w", err)
	}
	defer tx.Rollback()

	var roster models.Roster

	err = tx.SelectContext(ctx, &roster.Students, s.Converter(`
		SELECT roll_no, name, cgpa, status
		FROM students
		WHERE status = ?
		ORDER BY roll_no
	`), models.StudentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load students: %w", err)
	}

	err = tx.SelectContext(ctx, &roster.Courses, s.Converter(`
		SELECT course_id, course_name, credits, capacity, course_type, elective_slot, max_choices, active
		FROM courses
		WHERE active = ?
		ORDER BY course_id
	`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to load courses: %w", err)
	}

	err = tx.SelectContext(ctx, &roster.Preferences, s.Converter(`
		SELECT p.roll_no, p.course_id, p.pref_rank
		FROM preferences p
		JOIN students s ON s.roll_no = p.roll_no
		WHERE s.status = ?
		ORDER BY p.roll_no, p.pref_rank
	`), models.StudentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to finish roster read: %w", err)
	}
	return &roster, nil
}

// CommitRun makes run the current run in a single transaction: its rows are
// written, the current-run pointer is swapped, publication is reset and every
// superseded run is removed. Readers see either the old run or the new one.
// The caller's context is detached once writing starts.
func (s *BaseStore) CommitRun(ctx context.Context, run *models.Run, allotments []models.Allotment) error {
	row, err := newRunRow(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.RunID, err)
	}

	ctx = context.WithoutCancel(ctx)
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin run commit: %w", err)
	}
	defer tx.Rollback()

	if s.LockStateQuery != "" {
		if _, err := tx.ExecContext(ctx, s.LockStateQuery); err != nil {
			return fmt.Errorf("failed to lock allotment state: %w", err)
		}
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO allotment_runs (run_id, students_processed, total_allotted, total_waitlisted, warnings, created_at)
		VALUES (:run_id, :students_processed, :total_allotted, :total_waitlisted, :warnings, :created_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.RunID, err)
	}

	for start := 0; start < len(allotments); start += insertBatchSize {
		batch := allotments[start:min(start+insertBatchSize, len(allotments))]
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO allotments (run_id, roll_no, course_id, outcome, pref_rank, level)
			VALUES (:run_id, :roll_no, :course_id, :outcome, :pref_rank, :level)
		`, batch)
		if err != nil {
			return fmt.Errorf("failed to write allotments of run %s: %w", run.RunID, err)
		}
	}

	_, err = tx.ExecContext(ctx, s.Converter(`
		UPDATE allotment_state
		SET current_run_id = ?, published = ?
		WHERE id = 1
	`), run.RunID, false)
	if err != nil {
		return fmt.Errorf("failed to switch current run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.Converter(`DELETE FROM allotments WHERE run_id <> ?`), run.RunID); err != nil {
		return fmt.Errorf("failed to clear superseded allotments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.Converter(`DELETE FROM allotment_runs WHERE run_id <> ?`), run.RunID); err != nil {
		return fmt.Errorf("failed to clear superseded runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *BaseStore) CurrentRun(ctx context.Context) (*models.Run, error) {
	var row runRow
	err := s.DB.GetContext(ctx, &row, `
		SELECT r.run_id, r.students_processed, r.total_allotted, r.total_waitlisted, r.warnings, r.created_at
		FROM allotment_runs r
		JOIN allotment_state st ON st.current_run_id = r.run_id
		WHERE st.id = 1
	`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current run: %w", err)
	}

	run, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", row.RunID, err)
	}
	return run, nil
}

func (s *BaseStore) CurrentAllotments(ctx context.Context) ([]models.Allotment, error) {
	var allotments []models.Allotment
	err := s.DB.SelectContext(ctx, &allotments, `
		SELECT a.run_id, a.roll_no, a.course_id, a.outcome, a.pref_rank, a.level
		FROM allotments a
		JOIN allotment_state st ON st.current_run_id = a.run_id
		WHERE st.id = 1
		ORDER BY a.roll_no, a.pref_rank
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list current allotments: %w", err)
	}
	return allotments, nil
}

// RunSnapshot reads the publication state, the current run and its rows in
// one read transaction, keyed by the run id the state pointed at. It
// returns nil when there is no run.
func (s *BaseStore) RunSnapshot(ctx context.Context) (*models.RunSnapshot, error) {
	tx, err := s.DB.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin run read: %w", err)
	}
	defer tx.Rollback()

	var state models.PublicationState
	err = tx.GetContext(ctx, &state, `
		SELECT current_run_id, published
		FROM allotment_state
		WHERE id = 1
	`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publication state: %w", err)
	}
	if !state.HasRun() {
		return nil, nil
	}
	runID := *state.RunID

	var row runRow
	err = tx.GetContext(ctx, &row, s.Converter(`
		SELECT run_id, students_processed, total_allotted, total_waitlisted, warnings, created_at
		FROM allotment_runs
		WHERE run_id = ?
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	run, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}

	var allotments []models.Allotment
	err = tx.SelectContext(ctx, &allotments, s.Converter(`
		SELECT run_id, roll_no, course_id, outcome, pref_rank, level
		FROM allotments
		WHERE run_id = ?
		ORDER BY roll_no, pref_rank
	`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allotments of run %s: %w", runID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to finish run read: %w", err)
	}
	return &models.RunSnapshot{Run: run, Published: state.Published, Allotments: allotments}, nil
}

// StudentAllotments returns a student's rows of the current run, and nothing
// at all while the run is unpublished.
func (s *BaseStore) StudentAllotments(ctx context.Context, rollNo string) ([]models.StudentAllotment, error) {
	var rows []models.StudentAllotment
	err := s.DB.SelectContext(ctx, &rows, s.Converter(`
		SELECT
			a.course_id,
			COALESCE(c.course_name, '') AS course_name,
			COALESCE(c.credits, 0) AS credits,
			a.outcome,
			a.pref_rank,
			r.created_at
		FROM allotment_state st
		JOIN allotment_runs r ON r.run_id = st.current_run_id
		JOIN allotments a ON a.run_id = r.run_id
		LEFT JOIN courses c ON c.course_id = a.course_id
		WHERE st.id = 1
		AND st.published = ?
		AND a.roll_no = ?
		ORDER BY a.pref_rank
	`), true, rollNo)
	if err != nil {
		return nil, fmt.Errorf("failed to get allotments of %s: %w", rollNo, err)
	}
	return rows, nil
}

func (s *BaseStore) CourseSeats(ctx context.Context) ([]models.CourseSeats, error) {
	var seats []models.CourseSeats
	err := s.DB.SelectContext(ctx, &seats, s.Converter(`
		SELECT
			c.course_id,
			c.course_name,
			c.capacity,
			SUM(CASE WHEN a.outcome = 'ALLOTTED' THEN 1 ELSE 0 END) AS seats_allotted,
			SUM(CASE WHEN a.outcome = 'WAITLISTED' THEN 1 ELSE 0 END) AS waitlisted
		FROM courses c
		LEFT JOIN allotment_state st ON st.id = 1
		LEFT JOIN allotments a ON a.course_id = c.course_id AND a.run_id = st.current_run_id
		WHERE c.active = ?
		GROUP BY c.course_id, c.course_name, c.capacity
		ORDER BY c.course_id
	`), true)
	if err != nil {
		return nil, fmt.Errorf("failed to get course seats: %w", err)
	}

	for i := range seats {
		seats[i].SeatsAvailable = max(seats[i].Capacity-seats[i].SeatsAllotted, 0)
	}
	return seats, nil
}

func (s *BaseStore) PublicationState(ctx context.Context) (*models.PublicationState, error) {
	var state models.PublicationState
	err := s.DB.GetContext(ctx, &state, `
		SELECT current_run_id, published
		FROM allotment_state
		WHERE id = 1
	`)
	if err == sql.ErrNoRows {
		return &models.PublicationState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publication state: %w", err)
	}
	return &state, nil
}

// SetPublished flips the publication flag of run without touching any run
// rows. It fails with apperrors.ErrRunSuperseded when run is no longer the
// current one.
func (s *BaseStore) SetPublished(ctx context.Context, runID string, published bool) error {
	res, err := s.DB.ExecContext(ctx, s.Converter(`
		UPDATE allotment_state
		SET published = ?
		WHERE id = 1
		AND current_run_id = ?
	`), published, runID)
	if err != nil {
		return fmt.Errorf("failed to set publication state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set publication state: %w", err)
	}
	if n > 0 {
		return nil
	}

	state, err := s.PublicationState(ctx)
	if err != nil {
		return err
	}
	if !state.HasRun() {
		return apperrors.ErrNoRun
	}
	return apperrors.ErrRunSuperseded
}

func (s *BaseStore) UpsertStudent(ctx context.Context, student *models.Student) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO students (roll_no, name, cgpa, status)
		VALUES (:roll_no, :name, :cgpa, :status)
		ON CONFLICT(roll_no) DO UPDATE SET
		name = excluded.name,
		cgpa = excluded.cgpa,
		status = excluded.status
	`, student)
	if err != nil {
		return fmt.Errorf("failed to upsert student %s: %w", student.RollNo, err)
	}
	return nil
}

func (s *BaseStore) UpsertCourse(ctx context.Context, course *models.Course) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO courses (course_id, course_name, credits, capacity, course_type, elective_slot, max_choices, active)
		VALUES (:course_id, :course_name, :credits, :capacity, :course_type, :elective_slot, :max_choices, :active)
		ON CONFLICT(course_id) DO UPDATE SET
		course_name = excluded.course_name,
		credits = excluded.credits,
		capacity = excluded.capacity,
		course_type = excluded.course_type,
		elective_slot = excluded.elective_slot,
		max_choices = excluded.max_choices,
		active = excluded.active
	`, course)
	if err != nil {
		return fmt.Errorf("failed to upsert course %s: %w", course.CourseID, err)
	}
	return nil
}

func (s *BaseStore) ListCourses(ctx context.Context) ([]models.Course, error) {
	var courses []models.Course
	err := s.DB.SelectContext(ctx, &courses, `
		SELECT course_id, course_name, credits, capacity, course_type, elective_slot, max_choices, active
		FROM courses
		ORDER BY course_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	return courses, nil
}

func (s *BaseStore) ListPreferences(ctx context.Context, rollNo string) ([]models.Preference, error) {
	var prefs []models.Preference
	err := s.DB.SelectContext(ctx, &prefs, s.Converter(`
		SELECT roll_no, course_id, pref_rank
		FROM preferences
		WHERE roll_no = ?
		ORDER BY pref_rank
	`), rollNo)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences of %s: %w", rollNo, err)
	}
	return prefs, nil
}

func (s *BaseStore) ReplacePreferences(ctx context.Context, rollNo string, prefs []models.Preference) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin preference update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.Converter(`DELETE FROM preferences WHERE roll_no = ?`), rollNo); err != nil {
		return fmt.Errorf("failed to clear preferences of %s: %w", rollNo, err)
	}

	if len(prefs) > 0 {
		rows := make([]models.Preference, len(prefs))
		for i, p := range prefs {
			p.RollNo = rollNo
			rows[i] = p
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO preferences (roll_no, course_id, pref_rank)
			VALUES (:roll_no, :course_id, :pref_rank)
		`, rows)
		if err != nil {
			return fmt.Errorf("failed to save preferences of %s: %w", rollNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit preferences of %s: %w", rollNo, err)
	}
	return nil
}
