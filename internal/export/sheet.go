package export

import (
	"strconv"
	"time"

	"github.com/shrimpsizemoose/allotter/internal/models"
)

// RunSheet is one tab of an export: a title, a header and string cells.
type RunSheet struct {
	Title  string
	Header []string
	Rows   [][]string
}

// Values returns header and rows in the shape the Sheets API expects.
func (s *RunSheet) Values() [][]interface{} {
	values := make([][]interface{}, 0, len(s.Rows)+1)
	values = append(values, toCells(s.Header))
	for _, row := range s.Rows {
		values = append(values, toCells(row))
	}
	return values
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}

// AllotmentSheet lists every row of a run, in the order the rows are given.
func AllotmentSheet(run *models.Run, rows []models.Allotment, courses []models.Course, timestampFormat string) *RunSheet {
	names := make(map[string]string, len(courses))
	for _, c := range courses {
		names[c.CourseID] = c.CourseName
	}

	sheet := &RunSheet{
		Title:  "Allotments",
		Header: []string{"Roll No", "Course ID", "Course Name", "Outcome", "Preference Rank", "Level", "Run", "Computed At"},
	}
	computedAt := run.CreatedAt.UTC().Format(timestampFormat)
	for _, a := range rows {
		sheet.Rows = append(sheet.Rows, []string{
			a.RollNo,
			a.CourseID,
			names[a.CourseID],
			string(a.Outcome),
			strconv.Itoa(a.Rank),
			strconv.Itoa(a.Level),
			run.RunID,
			computedAt,
		})
	}
	return sheet
}

func SeatSheet(seats []models.CourseSeats) *RunSheet {
	sheet := &RunSheet{
		Title:  "Seats",
		Header: []string{"Course ID", "Course Name", "Capacity", "Allotted", "Available", "Waitlisted"},
	}
	for _, s := range seats {
		sheet.Rows = append(sheet.Rows, []string{
			s.CourseID,
			s.CourseName,
			strconv.Itoa(s.Capacity),
			strconv.Itoa(s.SeatsAllotted),
			strconv.Itoa(s.SeatsAvailable),
			strconv.Itoa(s.Waitlisted),
		})
	}
	return sheet
}

func SummarySheet(run *models.Run, published bool, now time.Time, timestampFormat string) *RunSheet {
	sheet := &RunSheet{
		Title:  "Summary",
		Header: []string{"Field", "Value"},
		Rows: [][]string{
			{"Run", run.RunID},
			{"Computed At", run.CreatedAt.UTC().Format(timestampFormat)},
			{"Students Processed", strconv.Itoa(run.StudentsProcessed)},
			{"Allotted", strconv.Itoa(run.TotalAllotted)},
			{"Waitlisted", strconv.Itoa(run.TotalWaitlisted)},
			{"Published", strconv.FormatBool(published)},
			{"Exported At", now.UTC().Format(timestampFormat)},
		},
	}
	for _, w := range run.Warnings {
		sheet.Rows = append(sheet.Rows, []string{"Warning", w})
	}
	return sheet
}
