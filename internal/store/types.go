package store

import (
	"encoding/json"
	"time"

	"github.com/shrimpsizemoose/allotter/internal/models"
)

type DatabaseType string

const (
	DBTypePostgres DatabaseType = "postgres"
	DBTypeSQLite   DatabaseType = "sqlite"
)

type DBConfig struct {
	DSN           string
	Type          DatabaseType
	MigrationsDir string
}

// runRow is how a run sits in allotment_runs.
type runRow struct {
	RunID             string `db:"run_id"`
	StudentsProcessed int    `db:"students_processed"`
	TotalAllotted     int    `db:"total_allotted"`
	TotalWaitlisted   int    `db:"total_waitlisted"`
	Warnings          string `db:"warnings"`
	CreatedAt         int64  `db:"created_at"`
}

func newRunRow(run *models.Run) (*runRow, error) {
	warnings := run.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	encoded, err := json.Marshal(warnings)
	if err != nil {
		return nil, err
	}
	return &runRow{
		RunID:             run.RunID,
		StudentsProcessed: run.StudentsProcessed,
		TotalAllotted:     run.TotalAllotted,
		TotalWaitlisted:   run.TotalWaitlisted,
		Warnings:          string(encoded),
		CreatedAt:         run.CreatedAt.UnixMilli(),
	}, nil
}

func (r *runRow) toModel() (*models.Run, error) {
	var warnings []string
	if r.Warnings != "" {
		if err := json.Unmarshal([]byte(r.Warnings), &warnings); err != nil {
			return nil, err
		}
	}
	return &models.Run{
		RunID:             r.RunID,
		StudentsProcessed: r.StudentsProcessed,
		TotalAllotted:     r.TotalAllotted,
		TotalWaitlisted:   r.TotalWaitlisted,
		Warnings:          warnings,
		CreatedAt:         time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}
