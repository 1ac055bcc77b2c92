package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/allotter/internal/allotment"
	"github.com/shrimpsizemoose/allotter/internal/app"
	"github.com/shrimpsizemoose/allotter/internal/apperrors"
)

const (
	guestHelp = `This bot is for the registrar's office only.
/help - Show this message`

	adminHelp = `Available commands:
/run - Compute a new allotment run (starts unpublished)
/publish [run_id] - Show the current run to students
/unpublish [run_id] - Hide the current run from students
/status - Current run and publication state
/seats - Seats allotted per course
/token - Get an admin token for the HTTP API
/help - Show this message`

	commandTimeout = 5 * time.Minute
	adminTokenTTL  = 12 * time.Hour
)

type commandHandler func(context.Context, *tgbotapi.Message) error

func (b *Bot) routeGuestCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"start": b.handleStart,
		"help":  b.handleHelp,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) routeAdminCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"run":       b.handleRun,
		"publish":   b.handlePublish,
		"unpublish": b.handleUnpublish,
		"status":    b.handleStatus,
		"seats":     b.handleSeats,
		"token":     b.handleToken,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.sendHelp(msg.Chat.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := msg.Command()

	if handler, ok := b.routeGuestCommands(cmd); ok {
		b.dispatch(ctx, handler, msg)
		return
	}

	if b.isAdmin(msg) {
		if handler, ok := b.routeAdminCommands(cmd); ok {
			b.dispatch(ctx, handler, msg)
			return
		}
	} else {
		logger.Info.Printf("Ignoring /%s from non-admin %d", cmd, msg.Chat.ID)
	}

	b.sendHelp(msg.Chat.ID)
}

func (b *Bot) dispatch(ctx context.Context, handler commandHandler, msg *tgbotapi.Message) {
	if err := handler(ctx, msg); err != nil {
		logger.Error.Printf("Command error: %v", err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Error: %s", describe(err)))
	}
}

func (b *Bot) isAdmin(msg *tgbotapi.Message) bool {
	return msg.From != nil && b.admins[msg.From.ID]
}

// describe turns service errors into something the registrar can act on.
func describe(err error) string {
	var verr *allotment.ValidationError
	switch {
	case errors.As(err, &verr):
		return "the registration data is invalid:\n- " + strings.Join(verr.Reasons, "\n- ")
	case errors.Is(err, apperrors.ErrRunInProgress):
		return "another run is in progress, try again in a minute"
	case errors.Is(err, apperrors.ErrRunSuperseded):
		return "a newer run was committed, check /status before publishing"
	case errors.Is(err, apperrors.ErrNoRun):
		return "there is no allotment run yet, use /run first"
	default:
		return err.Error()
	}
}

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) error {
	text := guestHelp
	if b.isAdmin(msg) {
		text = adminHelp
	}
	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) sendHelp(chatID int64) error {
	return b.sendMessage(chatID, "Use commands to talk to the bot. Send /help for the list.")
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	text := "Hi! I run the elective seat allotment.\n\n"
	if b.isAdmin(msg) {
		text += "You are a registrar admin. Use /help for the list of commands."
	} else {
		text += "Only the registrar's office can use this bot."
	}
	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) handleRun(ctx context.Context, msg *tgbotapi.Message) error {
	b.sendMessage(msg.Chat.ID, "⏳ Running allotment...")

	run, err := b.service.RunAllotment(ctx)
	if err != nil {
		return err
	}

	var text strings.Builder
	fmt.Fprintf(&text, "✅ Run %s committed\n", run.RunID)
	fmt.Fprintf(&text, "Students: %d\nAllotted: %d\nWaitlisted: %d\n",
		run.StudentsProcessed, run.TotalAllotted, run.TotalWaitlisted)
	if len(run.Warnings) > 0 {
		fmt.Fprintf(&text, "\n⚠️ %d warnings:\n", len(run.Warnings))
		for i, w := range run.Warnings {
			if i == 10 {
				fmt.Fprintf(&text, "...and %d more\n", len(run.Warnings)-i)
				break
			}
			fmt.Fprintf(&text, "- %s\n", w)
		}
	}
	text.WriteString("\nResults are hidden until /publish.")

	return b.sendMessage(msg.Chat.ID, text.String())
}

func (b *Bot) handlePublish(ctx context.Context, msg *tgbotapi.Message) error {
	if err := b.service.Publish(ctx, strings.TrimSpace(msg.CommandArguments())); err != nil {
		return err
	}
	logger.Info.Printf("Results published from telegram by %d", msg.From.ID)
	return b.sendMessage(msg.Chat.ID, "📢 Results are now visible to students")
}

func (b *Bot) handleUnpublish(ctx context.Context, msg *tgbotapi.Message) error {
	if err := b.service.Unpublish(ctx, strings.TrimSpace(msg.CommandArguments())); err != nil {
		return err
	}
	logger.Info.Printf("Results unpublished from telegram by %d", msg.From.ID)
	return b.sendMessage(msg.Chat.ID, "🙈 Results are hidden from students")
}

func (b *Bot) handleStatus(ctx context.Context, msg *tgbotapi.Message) error {
	snap, err := b.service.CurrentRunDetails(ctx)
	if errors.Is(err, apperrors.ErrNoRun) {
		return b.sendMessage(msg.Chat.ID, "No allotment run yet")
	}
	if err != nil {
		return err
	}

	visibility := "hidden"
	if snap.Published {
		visibility = "published"
	}
	run := snap.Run
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf(
		"Run %s (%s)\nComputed: %s UTC\nStudents: %d\nAllotted: %d\nWaitlisted: %d",
		run.RunID,
		visibility,
		run.CreatedAt.UTC().Format(b.service.Config.Display.TimestampFormat),
		run.StudentsProcessed,
		run.TotalAllotted,
		run.TotalWaitlisted,
	))
}

func (b *Bot) handleSeats(ctx context.Context, msg *tgbotapi.Message) error {
	seats, err := b.service.CourseSeats(ctx)
	if err != nil {
		return err
	}
	if len(seats) == 0 {
		return b.sendMessage(msg.Chat.ID, "No active courses")
	}

	var text strings.Builder
	text.WriteString("Seats per course:\n\n")
	for _, s := range seats {
		fmt.Fprintf(&text, "📘 %s %s: %d/%d taken, %d waitlisted\n",
			s.CourseID, s.CourseName, s.SeatsAllotted, s.Capacity, s.Waitlisted)
	}
	return b.sendMessage(msg.Chat.ID, text.String())
}

func (b *Bot) handleToken(ctx context.Context, msg *tgbotapi.Message) error {
	subject := fmt.Sprintf("telegram:%d", msg.From.ID)
	token, err := b.service.Auth.IssueToken(subject, app.RoleAdmin, adminTokenTTL)
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf(
		"Admin token, valid for %s:\n\n%s", adminTokenTTL, token))
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.out.Send(msg)
	return err
}
