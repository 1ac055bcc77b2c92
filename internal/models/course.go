package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type CourseType string

const (
	CourseCore     CourseType = "core"
	CourseElective CourseType = "elective"
)

type Course struct {
	CourseID     string     `db:"course_id" json:"course_id" validate:"required,max=32"`
	CourseName   string     `db:"course_name" json:"course_name"`
	Credits      int        `db:"credits" json:"credits" validate:"gte=0"`
	Capacity     int        `db:"capacity" json:"capacity" validate:"gte=0"`
	CourseType   CourseType `db:"course_type" json:"course_type" validate:"required,oneof=core elective"`
	ElectiveSlot *string    `db:"elective_slot" json:"elective_slot"`
	MaxChoices   *int       `db:"max_choices" json:"max_choices"`
	Active       bool       `db:"active" json:"active"`
}

func (c *Course) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.CourseType == CourseElective {
		if c.ElectiveSlot == nil || *c.ElectiveSlot == "" {
			return fmt.Errorf("elective course %s has no elective slot", c.CourseID)
		}
		if c.MaxChoices == nil || *c.MaxChoices < 1 {
			return fmt.Errorf("elective course %s must allow at least one choice in slot %s", c.CourseID, *c.ElectiveSlot)
		}
	}
	return nil
}

func (c *Course) IsElective() bool {
	return c.CourseType == CourseElective && c.ElectiveSlot != nil
}

// Slot returns the elective slot name, or "" for core courses.
func (c *Course) Slot() string {
	if !c.IsElective() {
		return ""
	}
	return *c.ElectiveSlot
}

// Quota is how many allotments a student may hold from the course's category.
// Core courses are single-outcome.
func (c *Course) Quota() int {
	if c.IsElective() && c.MaxChoices != nil {
		return *c.MaxChoices
	}
	return 1
}
