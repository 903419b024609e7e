package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"nearby-tasks/internal/geo"
	"nearby-tasks/internal/location"
	"nearby-tasks/internal/metrics"
	"nearby-tasks/internal/model"
	"nearby-tasks/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageLocation
)

const (
	cbCompletePrefix = "complete:"
	cbDeletePrefix   = "delete:"
	cbConfirmPrefix  = "confirm:"
	cbCancelPrefix   = "cancel:"
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
	actionDeleteAll
)

type confirmationRequest struct {
	taskID string
	action confirmationAction
}

// UserStore keeps the Telegram users of the bot.
type UserStore interface {
	UpsertFromTelegram(ctx context.Context, telegramID int64, firstName, lastName, username string) (*model.User, error)
	SetTracking(ctx context.Context, userID string, tracking bool) error
	ListTracking(ctx context.Context) ([]model.User, error)
}

// Deps are the collaborators of the bot.
type Deps struct {
	Users    UserStore
	Tasks    *service.TaskService
	Owners   OwnerResolver
	Book     *location.Book
	Sessions *service.Sessions
	Metrics  *metrics.Collector
	Logger   *zap.Logger
	// RadiusMeters is the trigger radius, also used by /nearby.
	RadiusMeters float64
	// AllowedChatID restricts the bot to one chat when non-zero.
	AllowedChatID int64
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api           *tgbotapi.BotAPI
	out           Sender
	users         UserStore
	tasks         *service.TaskService
	owners        OwnerResolver
	book          *location.Book
	sessions      *service.Sessions
	scanner       *service.Scanner
	metrics       *metrics.Collector
	logger        *zap.Logger
	radius        float64
	allowedChat   int64
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

// New wraps an authorized Telegram API client.
func New(api *tgbotapi.BotAPI, deps Deps) *Bot {
	b := newBot(api, deps)
	b.api = api
	b.logger.Info("bot authorized", zap.String("account", api.Self.UserName))
	return b
}

func newBot(out Sender, deps Deps) *Bot {
	owners := deps.Owners
	if owners == nil {
		owners = LocalOwners{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bot{
		out:           out,
		users:         deps.Users,
		tasks:         deps.Tasks,
		owners:        owners,
		book:          deps.Book,
		sessions:      deps.Sessions,
		scanner:       service.NewScanner(deps.Tasks, deps.RadiusMeters),
		metrics:       deps.Metrics,
		logger:        logger.Named("bot"),
		radius:        deps.RadiusMeters,
		allowedChat:   deps.AllowedChatID,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}
	if b.book != nil && b.sessions != nil {
		b.book.Subscribe(b.followFix)
	}
	return b
}

// followFix switches the check interval of a user whenever a fix arrives,
// whether from Telegram or from the HTTP endpoint.
func (b *Bot) followFix(userID string, fix location.Fix) {
	if fix.Revoked {
		return
	}
	b.sessions.SetForeground(userID, fix.Streaming())
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return errors.New("bot has no telegram client")
	}
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Info("start polling updates")
	b.promptTrackingUsers(ctx)

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
	b.sessions.StopAll()
	return nil
}

// promptTrackingUsers asks users who had tracking on before a restart to
// share their location again; positions are not persisted.
func (b *Bot) promptTrackingUsers(ctx context.Context) {
	users, err := b.users.ListTracking(ctx)
	if err != nil {
		b.logger.Warn("list tracking users", zap.Error(err))
		return
	}
	for _, user := range users {
		if !b.chatAllowed(user.TelegramID) {
			continue
		}
		text := "🔄 I was restarted. Share your live location again to resume nearby alerts."
		if err := b.sendWithReplyMarkup(user.TelegramID, text, mainMenuKeyboard()); err != nil {
			b.logger.Warn("prompt tracking user", zap.Int64("telegram_id", user.TelegramID), zap.Error(err))
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.logger.Warn("handle callback", zap.Error(err))
		}
	case update.Message != nil:
		msg := update.Message
		if msg.Chat == nil || !msg.Chat.IsPrivate() || !b.chatAllowed(msg.Chat.ID) {
			return
		}
		if err := b.handleMessage(ctx, msg); err != nil {
			b.logger.Warn("handle message", zap.Error(err))
		}
	case update.EditedMessage != nil:
		// Live location updates arrive as edits of the original message.
		msg := update.EditedMessage
		if msg.Chat == nil || !msg.Chat.IsPrivate() || !b.chatAllowed(msg.Chat.ID) || msg.Location == nil {
			return
		}
		if err := b.handleLocation(ctx, msg, true); err != nil {
			b.logger.Warn("handle live location", zap.Error(err))
		}
	}
}

func (b *Bot) chatAllowed(chatID int64) bool {
	return b.allowedChat == 0 || b.allowedChat == chatID
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.Location != nil || msg.Venue != nil {
		return b.handleLocation(ctx, msg, false)
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled. Start again whenever you like.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		b.logger.Info("command",
			zap.Int64("telegram_id", msg.From.ID),
			zap.String("command", msg.Command()),
		)
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Use /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "nearby":
		return b.handleNearby(ctx, msg)
	case "track":
		return b.handleTrack(ctx, msg)
	case "stop":
		return b.handleStop(ctx, msg)
	case "clear":
		return b.handleClear(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I remind you of tasks when you get close to where they need doing.</b>\n\n"+
			"1. Add a task with /newtask and pin it to a place.\n"+
			"2. Share your <b>live location</b> and send /track.\n"+
			"3. I message you when you are within %s of a pending task.\n\n"+
			"See /help for all commands.",
		escape(name), formatDistance(b.radius),
	)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /newtask - add a task step by step\n" +
		"• /tasks - pending tasks with their distance, complete or delete them\n" +
		"• /nearby - check now which tasks are close to your last position\n" +
		"• /track - get alerts while you share your live location\n" +
		"• /stop - stop alerts\n" +
		"• /clear - delete all your tasks\n" +
		"• /cancel - cancel the current input\n\n" +
		"A one-off location is enough for /nearby. Alerts in the background need a live location."
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New task.\n<b>Step 1:</b> what should it be called?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title cannot be empty. What should the task be called?", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "✏️ <b>Step 2:</b> add a short description (or press Skip). It becomes the alert text.", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageLocation
		return b.sendWithReplyMarkup(msg.Chat.ID,
			"📍 <b>Step 3:</b> where is it? Send a location (📎 → Location lets you pick any place), "+
				"or type <code>48.8566, 2.3522</code>.", locationKeyboard())
	case stageLocation:
		loc, err := service.ParseLocationInput(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID,
				"I cannot read that place. Send a location or type <code>latitude, longitude</code>.", locationKeyboard())
		}
		state.input.Location = loc
		err = b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
		b.clearConversation(msg.From.ID)
		return err
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Input reset. Try again with /newtask.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, owner, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.tasks.CreateTask(ctx, owner, input)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not save the task: %s", escape(err.Error())))
	}

	b.logger.Info("task created", zap.String("task_id", task.ID), zap.String("user_id", user.ID))

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(normalizeTitle(task.Title))))
	if task.Description != "" {
		summary.WriteString(fmt.Sprintf("• <b>Description:</b> %s\n", escape(task.Description)))
	}
	summary.WriteString(fmt.Sprintf("• <b>Place:</b> <code>%s</code>\n", escape(task.Location.String())))

	return b.sendText(chatID, strings.TrimSpace(summary.String()))
}

// handleLocation stores a shared position, or uses it as the place of the
// task being created.
func (b *Bot) handleLocation(ctx context.Context, msg *tgbotapi.Message, edited bool) error {
	pos, liveFor, ok := positionFromMessage(msg)
	if !ok || msg.From == nil {
		return nil
	}

	if !edited {
		if state := b.getConversation(msg.From.ID); state != nil && state.stage == stageLocation {
			state.input.Location = model.PointAt(pos.Coordinate)
			err := b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
			b.clearConversation(msg.From.ID)
			return err
		}
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	b.book.Update(user.ID, pos, liveFor)
	b.metrics.PositionReceived()

	if user.Tracking && !b.sessions.Active(user.ID) {
		return b.startTracking(ctx, msg.Chat.ID, user, !edited)
	}
	if edited {
		return nil
	}
	if liveFor > 0 {
		return b.sendText(msg.Chat.ID, "📡 Live location received. Send /track to get alerts near your tasks.")
	}
	return b.sendText(msg.Chat.ID, "📍 Position saved. Use /nearby to see close tasks. For alerts, share a live location and send /track.")
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, owner, err := b.resolve(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendTaskList(ctx, msg.Chat.ID, user, owner)
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User, owner string) error {
	tasks, err := b.tasks.ListPending(ctx, owner)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "No pending tasks. Add one with /newtask.")
	}

	var from *geo.Coordinate
	if fix, ok := b.book.Latest(user.ID); ok && !fix.Revoked {
		c := fix.Position.Coordinate
		from = &c
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Pending tasks</b>\n")
	builder.WriteString("Tap a button to complete or delete a task.\n\n")

	buttons := make([][]tgbotapi.InlineKeyboardButton, 0, len(tasks))
	for _, task := range tasks {
		builder.WriteString(formatTask(task, from, b.radius))
		buttons = append(buttons, taskButtons(task.ID, task.Title))
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.out.Send(msg)
	return err
}

// handleNearby runs one scan against the last known position without
// sending alerts.
func (b *Bot) handleNearby(ctx context.Context, msg *tgbotapi.Message) error {
	user, owner, err := b.resolve(ctx, msg.From)
	if err != nil {
		return err
	}

	pos, err := b.book.Locator(user.ID).CurrentPosition(ctx)
	if err != nil {
		return b.sendWithReplyMarkup(msg.Chat.ID, "I need a recent position first. Tap 📍 to send it.", mainMenuKeyboard())
	}

	hits, err := b.scanner.Run(ctx, owner, pos)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not check tasks: %s", escape(err.Error())))
	}
	if len(hits) == 0 {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Nothing pending within %s.", formatDistance(b.radius)))
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🧭 <b>Within %s</b>\n\n", formatDistance(b.radius)))
	buttons := make([][]tgbotapi.InlineKeyboardButton, 0, len(hits))
	for _, hit := range hits {
		builder.WriteString(fmt.Sprintf("%s <b>%s</b> · %s\n", iconNear, escape(normalizeTitle(hit.Task.Title)), formatDistance(hit.Distance)))
		buttons = append(buttons, taskButtons(hit.Task.ID, hit.Task.Title))
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	out.ParseMode = tgbotapi.ModeHTML
	_, err = b.out.Send(out)
	return err
}

func (b *Bot) handleTrack(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.users.SetTracking(ctx, user.ID, true); err != nil {
		return fmt.Errorf("enable tracking: %w", err)
	}
	user.Tracking = true
	return b.startTracking(ctx, msg.Chat.ID, user, true)
}

// startTracking registers the user's proximity checks. Missing permissions
// keep the tracking wish stored; the next live location retries.
func (b *Bot) startTracking(ctx context.Context, chatID int64, user *model.User, reply bool) error {
	identity := ownerIdentity{owners: b.owners, user: *user}
	ctrl, err := b.sessions.Start(ctx, user.ID, identity, NewChatNotifier(b.out, chatID))
	switch {
	case errors.Is(err, service.ErrStartInProgress), errors.Is(err, service.ErrStartCanceled):
		b.logger.Debug("tracking start skipped", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	case errors.Is(err, service.ErrPermissionDenied):
		if !reply {
			return nil
		}
		return b.sendText(chatID,
			"📡 To alert you in the background I need your <b>live location</b>: "+
				"📎 → Location → Share my live location. Tracking starts as soon as it arrives.")
	case err != nil:
		return b.sendText(chatID, fmt.Sprintf("Could not start tracking: %s", escape(err.Error())))
	}

	if fix, ok := b.book.Latest(user.ID); ok {
		b.followFix(user.ID, fix)
	}
	b.logger.Info("tracking started", zap.String("user_id", user.ID), zap.Duration("interval", ctrl.Interval()))
	if !reply {
		return nil
	}
	return b.sendText(chatID, fmt.Sprintf(
		"✅ Tracking is on. I check every %s and alert you within %s of a pending task. /stop turns it off.",
		formatInterval(ctrl.Interval()), formatDistance(b.radius)))
}

func (b *Bot) handleStop(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if err := b.users.SetTracking(ctx, user.ID, false); err != nil {
		return fmt.Errorf("disable tracking: %w", err)
	}
	if !b.sessions.Stop(user.ID) {
		return b.sendText(msg.Chat.ID, "Tracking was not on.")
	}
	b.logger.Info("tracking stopped", zap.String("user_id", user.ID))
	return b.sendText(msg.Chat.ID, "⏹ Tracking is off.")
}

func (b *Bot) handleClear(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.setConfirmation(msg.From.ID, confirmationRequest{action: actionDeleteAll})
	return b.sendWithReplyMarkup(msg.Chat.ID, "Delete <b>all</b> your tasks?", confirmKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		switch req.action {
		case actionDelete:
			return b.deleteTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
		case actionDeleteAll:
			return b.deleteAllTasks(ctx, msg.Chat.ID, msg.From)
		default:
			return b.completeTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
		}
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Cancelled.")
	default:
		prompt := "Confirm or cancel completing the task."
		switch req.action {
		case actionDelete:
			prompt = "Confirm or cancel deleting the task."
		case actionDeleteAll:
			prompt = "Confirm or cancel deleting all tasks."
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, prompt, confirmKeyboard())
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if !b.chatAllowed(cb.Message.Chat.ID) {
		return nil
	}

	if _, err := b.out.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Debug("callback ack", zap.Error(err))
	}

	data := cb.Data
	chatID := cb.Message.Chat.ID
	switch {
	case strings.HasPrefix(data, cbCompletePrefix):
		return b.askConfirmation(ctx, chatID, cb.From, strings.TrimPrefix(data, cbCompletePrefix), actionComplete)
	case strings.HasPrefix(data, cbDeletePrefix):
		return b.askConfirmation(ctx, chatID, cb.From, strings.TrimPrefix(data, cbDeletePrefix), actionDelete)
	case strings.HasPrefix(data, cbConfirmPrefix):
		return b.completeTaskAndRefresh(ctx, chatID, cb.From, strings.TrimPrefix(data, cbConfirmPrefix))
	default:
		return nil
	}
}

func (b *Bot) askConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, taskID string, action confirmationAction) error {
	_, owner, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.tasks.GetTask(ctx, owner, taskID)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			return b.sendText(chatID, "Task not found.")
		}
		return err
	}

	var text string
	if action == actionDelete {
		text = fmt.Sprintf("Delete the task “%s”?", escape(normalizeTitle(task.Title)))
	} else {
		if task.Done {
			return b.sendText(chatID, "That task is already done.")
		}
		text = fmt.Sprintf("Mark “%s” as done?", escape(normalizeTitle(task.Title)))
	}
	b.setConfirmation(from.ID, confirmationRequest{taskID: task.ID, action: action})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) completeTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID string) error {
	user, owner, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.tasks.CompleteTask(ctx, owner, taskID)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			return b.sendText(chatID, "Task not found or already deleted.")
		}
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	b.logger.Info("task completed", zap.String("task_id", task.ID), zap.String("user_id", user.ID))
	if err := b.sendText(chatID, fmt.Sprintf("✅ “%s” is done.", escape(normalizeTitle(task.Title)))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user, owner)
}

func (b *Bot) deleteTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID string) error {
	user, owner, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.tasks.GetTask(ctx, owner, taskID)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			return b.sendText(chatID, "Task not found or already deleted.")
		}
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	if err := b.tasks.DeleteTask(ctx, owner, taskID); err != nil {
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	b.logger.Info("task deleted", zap.String("task_id", task.ID), zap.String("user_id", user.ID))
	if err := b.sendText(chatID, fmt.Sprintf("🗑 “%s” deleted.", escape(normalizeTitle(task.Title)))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user, owner)
}

func (b *Bot) deleteAllTasks(ctx context.Context, chatID int64, from *tgbotapi.User) error {
	user, owner, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}
	n, err := b.tasks.DeleteAll(ctx, owner)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not delete tasks: %s", escape(err.Error())))
	}
	b.logger.Info("tasks cleared", zap.String("user_id", user.ID), zap.Int64("count", n))
	return b.sendText(chatID, fmt.Sprintf("🗑 Deleted %d task(s).", n))
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewTask):
		return true, b.startNewTaskConversation(ctx, msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelNearby):
		return true, b.handleNearby(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.users.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

// resolve returns the local user and the id that owns their tasks.
func (b *Bot) resolve(ctx context.Context, from *tgbotapi.User) (*model.User, string, error) {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return nil, "", err
	}
	owner, err := b.owners.OwnerID(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("resolve task owner: %w", err)
	}
	return user, owner, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}
