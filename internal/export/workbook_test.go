package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/allotter/internal/app"
	"github.com/shrimpsizemoose/allotter/internal/apperrors"
	"github.com/shrimpsizemoose/allotter/internal/models"
	"github.com/shrimpsizemoose/allotter/internal/store/sqlite"
)

func setupTestService(t *testing.T) (*app.Service, func()) {
	s, err := sqlite.NewSQLiteStore(":memory:", "../../migrations")
	require.NoError(t, err, "Failed to create store")

	config := &app.Config{}
	config.Display.TimestampFormat = "2006-01-02 15:04:05"
	svc := app.NewServiceWith(config, s, app.NewLocalRunLock())

	ctx := context.Background()
	cgpa := 8.5
	require.NoError(t, s.UpsertStudent(ctx, &models.Student{RollNo: "21CS001", CGPA: &cgpa, Status: models.StudentActive}))
	require.NoError(t, s.UpsertCourse(ctx, &models.Course{CourseID: "CS101", CourseName: "Programming", Capacity: 1, CourseType: models.CourseCore, Active: true}))
	require.NoError(t, s.ReplacePreferences(ctx, "21CS001", []models.Preference{{CourseID: "CS101", Rank: 1}}))

	return svc, func() { require.NoError(t, svc.Close()) }
}

func TestCurrentRunSheet(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	_, skip, err := CurrentRunSheet(ctx, svc, false)
	require.NoError(t, err)
	assert.True(t, skip, "no run yet")

	_, err = svc.RunAllotment(ctx)
	require.NoError(t, err)

	_, skip, err = CurrentRunSheet(ctx, svc, true)
	require.NoError(t, err)
	assert.True(t, skip, "run is not published")

	sheet, skip, err := CurrentRunSheet(ctx, svc, false)
	require.NoError(t, err)
	require.False(t, skip)
	require.Len(t, sheet.Rows, 1)
	assert.Equal(t, []string{"21CS001", "CS101", "Programming", "ALLOTTED"}, sheet.Rows[0][:4])

	require.NoError(t, svc.Publish(ctx, ""))
	_, skip, err = CurrentRunSheet(ctx, svc, true)
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestWorkbook(t *testing.T) {
	svc, cleanup := setupTestService(t)
	defer cleanup()
	ctx := context.Background()

	_, err := Workbook(ctx, svc)
	assert.ErrorIs(t, err, apperrors.ErrNoRun)

	_, err = svc.RunAllotment(ctx)
	require.NoError(t, err)

	sheets, err := Workbook(ctx, svc)
	require.NoError(t, err)
	require.Len(t, sheets, 3)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sheets...))
	assert.NotZero(t, buf.Len())
}
