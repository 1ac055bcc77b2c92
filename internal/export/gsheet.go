package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shrimpsizemoose/allotter/internal/app"
)

const exportTimeout = time.Minute

// gsheetTarget is one [[gsheet]] entry with a client built from its own
// credentials.
type gsheetTarget struct {
	cfg    app.GSheetConfig
	sheets *sheets.Service
}

type GSheetExporter struct {
	service   *app.Service
	scheduler *gocron.Scheduler
	targets   []gsheetTarget
}

func NewGSheetExporter(ctx context.Context, service *app.Service) (*GSheetExporter, error) {
	targets := make([]gsheetTarget, 0, len(service.Config.GSheet))
	for _, cfg := range service.Config.GSheet {
		svc, err := sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
		if err != nil {
			return nil, fmt.Errorf("failed to create sheets service for %s: %w", cfg.SheetID, err)
		}
		targets = append(targets, gsheetTarget{cfg: cfg, sheets: svc})
	}
	return newGSheetExporter(service, targets), nil
}

func newGSheetExporter(service *app.Service, targets []gsheetTarget) *GSheetExporter {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	return &GSheetExporter{
		service:   service,
		scheduler: scheduler,
		targets:   targets,
	}
}

// Start schedules one job per target and starts the scheduler.
func (e *GSheetExporter) Start() error {
	for i := range e.targets {
		t := &e.targets[i]
		_, err := e.scheduler.Cron(t.cfg.Schedule).Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
			defer cancel()
			if err := e.export(ctx, t); err != nil {
				logger.Error.Printf("Export to %s/%s failed: %v", t.cfg.SheetID, t.cfg.SheetName, err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule export to %s: %w", t.cfg.SheetID, err)
		}
		logger.Info.Printf("Scheduled export to %s/%s at %q", t.cfg.SheetID, t.cfg.SheetName, t.cfg.Schedule)
	}

	e.scheduler.StartAsync()
	return nil
}

func (e *GSheetExporter) Stop() {
	e.scheduler.Stop()
}

// ExportAll pushes the current run to every target once, each with its own
// client. Failures do not stop the remaining targets.
func (e *GSheetExporter) ExportAll(ctx context.Context) error {
	var errs []error
	for i := range e.targets {
		t := &e.targets[i]
		if err := e.export(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", t.cfg.SheetID, t.cfg.SheetName, err))
		}
	}
	return errors.Join(errs...)
}

func (e *GSheetExporter) export(ctx context.Context, t *gsheetTarget) error {
	sheet, skip, err := CurrentRunSheet(ctx, e.service, t.cfg.PublishedOnly)
	if err != nil {
		return err
	}
	if skip {
		logger.Debug.Printf("Skipping export to %s/%s: nothing to publish", t.cfg.SheetID, t.cfg.SheetName)
		return nil
	}

	_, err = t.sheets.Spreadsheets.Values.Clear(t.cfg.SheetID, t.cfg.SheetName, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear sheet: %w", err)
	}

	updateRange := fmt.Sprintf("%s!A1", t.cfg.SheetName)
	_, err = t.sheets.Spreadsheets.Values.Update(t.cfg.SheetID, updateRange,
		&sheets.ValueRange{Values: sheet.Values()}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update sheet: %w", err)
	}

	logger.Info.Printf("Exported %d rows to %s/%s", len(sheet.Rows), t.cfg.SheetID, t.cfg.SheetName)
	return nil
}
