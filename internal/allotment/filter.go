package allotment

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shrimpsizemoose/allotter/internal/models"
)

// Choice is one surviving preference entry. Level is the entry's position in
// the cleaned list and decides when it competes; Rank is what the student
// originally submitted.
type Choice struct {
	CourseID string
	Rank     int
	Level    int
	Category string
	Quota    int
}

type Candidate struct {
	RollNo  string
	CGPA    *float64
	Choices []Choice
}

type Eligible struct {
	Courses    map[string]models.Course
	Candidates []Candidate
}

// Longest returns the length of the longest cleaned preference list.
func (e *Eligible) Longest() int {
	longest := 0
	for _, c := range e.Candidates {
		longest = max(longest, len(c.Choices))
	}
	return longest
}

func category(c *models.Course) string {
	if c.IsElective() {
		return "slot:" + c.Slot()
	}
	return "core:" + c.CourseID
}

// Filter reduces a validated roster to active students in merit order, each
// holding only entries that can actually be allotted. Nothing is fatal here:
// every dropped entry becomes a warning on the run.
func Filter(roster *models.Roster) (*Eligible, []string) {
	var warnings []string

	courses := make(map[string]models.Course)
	offered := make(map[string]bool)
	for _, c := range roster.Courses {
		offered[c.CourseID] = c.Active
		if c.Active && c.Capacity > 0 {
			courses[c.CourseID] = c
		}
	}

	students := make(map[string]*Candidate)
	var candidates []*Candidate
	inactive := make(map[string]bool)
	for i := range roster.Students {
		s := &roster.Students[i]
		if !s.IsActive() {
			inactive[s.RollNo] = true
			continue
		}
		if _, dup := students[s.RollNo]; dup {
			warnings = append(warnings, fmt.Sprintf("student %s listed twice, second entry ignored", s.RollNo))
			continue
		}
		c := &Candidate{RollNo: s.RollNo, CGPA: s.CGPA}
		students[s.RollNo] = c
		candidates = append(candidates, c)
	}

	prefs := slices.Clone(roster.Preferences)
	slices.SortStableFunc(prefs, func(a, b models.Preference) int {
		return cmp.Or(
			cmp.Compare(a.RollNo, b.RollNo),
			cmp.Compare(a.Rank, b.Rank),
		)
	})

	seen := make(map[string]map[string]bool)
	slotTaken := make(map[string]map[string]int)
	for _, p := range prefs {
		cand, ok := students[p.RollNo]
		if !ok {
			if !inactive[p.RollNo] {
				warnings = append(warnings, fmt.Sprintf("preference of unknown student %s for %s dropped", p.RollNo, p.CourseID))
			}
			continue
		}

		active, known := offered[p.CourseID]
		if !known || !active {
			warnings = append(warnings, fmt.Sprintf("student %s: course %s is not offered, preference dropped", p.RollNo, p.CourseID))
			continue
		}
		course, ok := courses[p.CourseID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("student %s: course %s has no seats, preference dropped", p.RollNo, p.CourseID))
			continue
		}

		if seen[p.RollNo] == nil {
			seen[p.RollNo] = make(map[string]bool)
			slotTaken[p.RollNo] = make(map[string]int)
		}
		if seen[p.RollNo][p.CourseID] {
			warnings = append(warnings, fmt.Sprintf("student %s: course %s ranked more than once, rank %d dropped", p.RollNo, p.CourseID, p.Rank))
			continue
		}
		seen[p.RollNo][p.CourseID] = true

		cat := category(&course)
		if course.IsElective() {
			if slotTaken[p.RollNo][cat] >= course.Quota() {
				warnings = append(warnings, fmt.Sprintf(
					"student %s: slot %s allows %d choices, %s at rank %d dropped",
					p.RollNo, course.Slot(), course.Quota(), p.CourseID, p.Rank,
				))
				continue
			}
			slotTaken[p.RollNo][cat]++
		}

		cand.Choices = append(cand.Choices, Choice{
			CourseID: p.CourseID,
			Rank:     p.Rank,
			Level:    len(cand.Choices) + 1,
			Category: cat,
			Quota:    course.Quota(),
		})
	}

	out := &Eligible{
		Courses:    courses,
		Candidates: make([]Candidate, 0, len(candidates)),
	}
	for _, c := range candidates {
		out.Candidates = append(out.Candidates, *c)
	}
	sortByMerit(out.Candidates)

	return out, warnings
}
