package models

import (
	"github.com/go-playground/validator/v10"
)

type StudentStatus string

const (
	StudentPending  StudentStatus = "pending"
	StudentActive   StudentStatus = "active"
	StudentRejected StudentStatus = "rejected"
)

type Student struct {
	RollNo string        `db:"roll_no" json:"roll_no" validate:"required,max=32"`
	Name   string        `db:"name" json:"name"`
	CGPA   *float64      `db:"cgpa" json:"cgpa" validate:"omitempty,gte=0,lte=10"`
	Status StudentStatus `db:"status" json:"status" validate:"required,oneof=pending active rejected"`
}

func (s *Student) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

func (s *Student) IsActive() bool {
	return s.Status == StudentActive
}
