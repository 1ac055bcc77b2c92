package export

import (
	"context"
	"errors"
	"time"

	"github.com/shrimpsizemoose/allotter/internal/app"
	"github.com/shrimpsizemoose/allotter/internal/apperrors"
)

// CurrentRunSheet builds the allotment tab of the current run. skip is
// true when there is no run, or when publishedOnly is set and the run is
// still hidden from students.
func CurrentRunSheet(ctx context.Context, service *app.Service, publishedOnly bool) (*RunSheet, bool, error) {
	details, err := service.CurrentRunDetails(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoRun) {
			return nil, true, nil
		}
		return nil, false, err
	}
	if publishedOnly && !details.Published {
		return nil, true, nil
	}

	courses, err := service.Store.ListCourses(ctx)
	if err != nil {
		return nil, false, err
	}

	return AllotmentSheet(details.Run, details.Allotments, courses, service.Config.Display.TimestampFormat), false, nil
}

// Workbook assembles the admin download of the current run.
func Workbook(ctx context.Context, service *app.Service) ([]*RunSheet, error) {
	details, err := service.CurrentRunDetails(ctx)
	if err != nil {
		return nil, err
	}
	courses, err := service.Store.ListCourses(ctx)
	if err != nil {
		return nil, err
	}
	seats, err := service.CourseSeats(ctx)
	if err != nil {
		return nil, err
	}

	format := service.Config.Display.TimestampFormat
	return []*RunSheet{
		SummarySheet(details.Run, details.Published, time.Now(), format),
		AllotmentSheet(details.Run, details.Allotments, courses, format),
		SeatSheet(seats),
	}, nil
}
