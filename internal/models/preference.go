package models

type Preference struct {
	RollNo   string `db:"roll_no" json:"roll_no"`
	CourseID string `db:"course_id" json:"course_id" validate:"required"`
	Rank     int    `db:"pref_rank" json:"rank" validate:"gte=1"`
}

// Roster is everything a run reads from the registration tables.
type Roster struct {
	Students    []Student
	Courses     []Course
	Preferences []Preference
}
