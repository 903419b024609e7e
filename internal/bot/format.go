package bot

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/model"
)

const (
	btnSkip          = "⏭️ Skip"
	btnConfirm       = "✅ Confirm"
	btnCancel        = "↩️ Cancel"
	btnCancelDialog  = "⏪ Stop input"
	btnShareLocation = "📍 Send my location"
	menuLabelNewTask = "➕ New task"
	menuLabelTasks   = "📋 Tasks"
	menuLabelNearby  = "🧭 Nearby"
	menuLabelHelp    = "ℹ️ Help"
	iconPending      = "🟢"
	iconNear         = "📍"
	iconUnknown      = "❔"
)

func escape(s string) string {
	return html.EscapeString(s)
}

func normalizeTitle(title string) string {
	clean := strings.TrimSpace(title)
	if clean == "" {
		return "(untitled)"
	}
	return clean
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

// formatDistance renders meters the way people read them.
func formatDistance(meters float64) string {
	switch {
	case meters < 1000:
		return fmt.Sprintf("%d m", int(math.Round(meters)))
	case meters < 10000:
		return fmt.Sprintf("%.1f km", meters/1000)
	default:
		return fmt.Sprintf("%d km", int(math.Round(meters/1000)))
	}
}

// formatInterval renders a check interval, e.g. "30s" or "10 min".
func formatInterval(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
	return d.String()
}

// formatTask renders one task line. from is the user's last fix, if known.
func formatTask(task model.Task, from *geo.Coordinate, radius float64) string {
	var b strings.Builder
	icon := iconPending
	distance := ""
	coord, ok := task.Location.Normalize()
	switch {
	case !ok:
		icon = iconUnknown
		distance = "no usable location"
	case from != nil:
		d := geo.Distance(*from, coord)
		if d <= radius {
			icon = iconNear
		}
		distance = formatDistance(d) + " away"
	}

	b.WriteString(fmt.Sprintf("%s <b>%s</b>\n", icon, escape(normalizeTitle(task.Title))))
	if distance != "" {
		b.WriteString(fmt.Sprintf("   🧭 %s\n", distance))
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	b.WriteByte('\n')
	return b.String()
}

// formatNotification renders a proximity alert.
func formatNotification(event model.NotificationEvent) string {
	return fmt.Sprintf("%s <b>%s</b>\n%s\n<i>%s away</i>",
		iconNear, escape(event.Title), escape(event.Body), formatDistance(event.DistanceMeters))
}

func taskButtons(taskID, title string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ "+shortTitle(title, 24), cbCompletePrefix+taskID),
		tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", cbDeletePrefix+taskID),
	)
}

func notificationKeyboard(taskID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", cbConfirmPrefix+taskID),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", cbDeletePrefix+taskID),
			tgbotapi.NewInlineKeyboardButtonData("Later", cbCancelPrefix+taskID),
		),
	)
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNearby),
			tgbotapi.NewKeyboardButtonLocation(btnShareLocation),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// locationKeyboard offers the current position as the task location.
func locationKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonLocation(btnShareLocation),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "cancel" || value == "no"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "stop input"
}

// positionFromMessage reads a shared location. For live locations it also
// returns how long the stream keeps going after the returned fix.
func positionFromMessage(msg *tgbotapi.Message) (model.DevicePosition, time.Duration, bool) {
	loc := msg.Location
	if loc == nil && msg.Venue != nil {
		loc = &msg.Venue.Location
	}
	if loc == nil {
		return model.DevicePosition{}, 0, false
	}

	at := msg.Time()
	if msg.EditDate != 0 {
		at = time.Unix(int64(msg.EditDate), 0)
	}
	pos := model.DevicePosition{
		Coordinate: geo.Coordinate{Latitude: loc.Latitude, Longitude: loc.Longitude},
		Timestamp:  at,
	}

	var liveFor time.Duration
	if loc.LivePeriod > 0 {
		ends := msg.Time().Add(time.Duration(loc.LivePeriod) * time.Second)
		if ends.After(at) {
			liveFor = ends.Sub(at)
		}
	}
	return pos, liveFor, true
}
