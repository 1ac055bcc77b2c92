package models

import (
	"time"
)

type Outcome string

const (
	OutcomeAllotted   Outcome = "ALLOTTED"
	OutcomeWaitlisted Outcome = "WAITLISTED"
)

type Allotment struct {
	RunID    string  `db:"run_id" json:"run_id"`
	RollNo   string  `db:"roll_no" json:"roll_no"`
	CourseID string  `db:"course_id" json:"course_id"`
	Outcome  Outcome `db:"outcome" json:"outcome"`
	Rank     int     `db:"pref_rank" json:"rank"`
	Level    int     `db:"level" json:"level"`
}

type Run struct {
	RunID             string    `db:"run_id" json:"run_id"`
	StudentsProcessed int       `db:"students_processed" json:"students_processed"`
	TotalAllotted     int       `db:"total_allotted" json:"total_allotted"`
	TotalWaitlisted   int       `db:"total_waitlisted" json:"total_waitlisted"`
	Warnings          []string  `db:"-" json:"warnings,omitempty"`
	CreatedAt         time.Time `db:"-" json:"timestamp"`
}

type PublicationState struct {
	RunID     *string `db:"current_run_id" json:"run_id,omitempty"`
	Published bool    `db:"published" json:"published"`
}

func (p *PublicationState) HasRun() bool {
	return p.RunID != nil && *p.RunID != ""
}

// RunSnapshot is the current run, its rows and its publication flag, all
// read at one point in time.
type RunSnapshot struct {
	Run        *Run        `json:"run"`
	Published  bool        `json:"published"`
	Allotments []Allotment `json:"allotments"`
}

// StudentAllotment is a result row as a student sees it.
type StudentAllotment struct {
	CourseID       string  `db:"course_id" json:"course_id"`
	CourseName     string  `db:"course_name" json:"course_name"`
	Credits        int     `db:"credits" json:"credits"`
	Outcome        Outcome `db:"outcome" json:"-"`
	Status         string  `db:"-" json:"status"`
	Rank           int     `db:"pref_rank" json:"rank"`
	EnrollmentDate string  `db:"-" json:"enrollment_date"`
	RunCreatedAt   int64   `db:"created_at" json:"-"`
}

type StudentResult struct {
	Allotted   []StudentAllotment `json:"allotted"`
	Waitlisted []StudentAllotment `json:"waitlisted"`
	Published  bool               `json:"published"`
}

type CourseSeats struct {
	CourseID       string `db:"course_id" json:"course_id"`
	CourseName     string `db:"course_name" json:"course_name"`
	Capacity       int    `db:"capacity" json:"capacity"`
	SeatsAllotted  int    `db:"seats_allotted" json:"seats_allotted"`
	SeatsAvailable int    `db:"seats_available" json:"seats_available"`
	Waitlisted     int    `db:"waitlisted" json:"waitlisted"`
}
