package allotment

import (
	"fmt"
	"strings"

	"github.com/shrimpsizemoose/allotter/internal/apperrors"
	"github.com/shrimpsizemoose/allotter/internal/models"
)

// ValidationError lists every reason an input was rejected.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Reasons, "; "))
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrValidation
}

// Validate rejects rosters that cannot be allotted at all. Problems the
// filter can route around (unknown courses, zero capacity, too many
// choices in a slot) are not validation errors.
func Validate(roster *models.Roster) error {
	var reasons []string

	for i := range roster.Students {
		s := &roster.Students[i]
		if err := s.Validate(); err != nil {
			reasons = append(reasons, fmt.Sprintf("student %q: %v", s.RollNo, err))
		}
	}

	slotChoices := make(map[string]int)
	for i := range roster.Courses {
		c := &roster.Courses[i]
		if c.Capacity < 0 {
			reasons = append(reasons, fmt.Sprintf("course %s: negative capacity %d", c.CourseID, c.Capacity))
			continue
		}
		if err := c.Validate(); err != nil {
			reasons = append(reasons, fmt.Sprintf("course %s: %v", c.CourseID, err))
			continue
		}
		if !c.IsElective() {
			continue
		}
		slot := c.Slot()
		if prev, seen := slotChoices[slot]; seen && prev != *c.MaxChoices {
			reasons = append(reasons, fmt.Sprintf(
				"elective slot %s: course %s declares max_choices=%d, other courses declare %d",
				slot, c.CourseID, *c.MaxChoices, prev,
			))
			continue
		}
		slotChoices[slot] = *c.MaxChoices
	}

	ranks := make(map[string]map[int]string)
	for _, p := range roster.Preferences {
		if p.Rank < 1 {
			reasons = append(reasons, fmt.Sprintf("student %s: course %s has rank %d, ranks start at 1", p.RollNo, p.CourseID, p.Rank))
			continue
		}
		if ranks[p.RollNo] == nil {
			ranks[p.RollNo] = make(map[int]string)
		}
		if other, dup := ranks[p.RollNo][p.Rank]; dup {
			reasons = append(reasons, fmt.Sprintf("student %s: rank %d used for both %s and %s", p.RollNo, p.Rank, other, p.CourseID))
			continue
		}
		ranks[p.RollNo][p.Rank] = p.CourseID
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}
