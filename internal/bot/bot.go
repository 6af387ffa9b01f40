// Package bot is the Telegram transport. It translates commands and inline
// callbacks into timeline and registry operations and delivers notification
// intents published by the core.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"appointbot/internal/clock"
	"appointbot/internal/database"
	"appointbot/internal/events"
	"appointbot/internal/export"
	"appointbot/internal/models"
	"appointbot/internal/ratelimit"
	"appointbot/internal/registry"
	"appointbot/internal/timeline"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// Callback data prefixes.
const (
	cbBook      = "book:"
	cbCancel    = "cancel:"
	cbDelete    = "del:"
	cbDeleteDay = "delday:"
)

// Options carries the transport's policy knobs.
type Options struct {
	AdminID       int64
	MasterContact string
	CommandLimit  int
	CommandWindow time.Duration
}

// Bot wires Telegram updates into the core services.
type Bot struct {
	tg       telegramClient
	timeline *timeline.Service
	registry *registry.Service
	limiter  ratelimit.Limiter
	clk      clock.Clock
	opts     Options
	logger   zerolog.Logger
}

func New(
	token string,
	debug bool,
	tl *timeline.Service,
	reg *registry.Service,
	limiter ratelimit.Limiter,
	clk clock.Clock,
	bus *events.Bus,
	opts Options,
	logger zerolog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = debug
	return newBot(&realTelegramClient{api: api}, tl, reg, limiter, clk, bus, opts, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(
	tg telegramClient,
	tl *timeline.Service,
	reg *registry.Service,
	limiter ratelimit.Limiter,
	clk clock.Clock,
	bus *events.Bus,
	opts Options,
	logger zerolog.Logger,
) (*Bot, error) {
	return newBot(tg, tl, reg, limiter, clk, bus, opts, logger)
}

func newBot(
	tg telegramClient,
	tl *timeline.Service,
	reg *registry.Service,
	limiter ratelimit.Limiter,
	clk clock.Clock,
	bus *events.Bus,
	opts Options,
	logger zerolog.Logger,
) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	if opts.CommandLimit <= 0 {
		opts.CommandLimit = 20
	}
	if opts.CommandWindow <= 0 {
		opts.CommandWindow = time.Minute
	}

	b := &Bot{
		tg:       tg,
		timeline: tl,
		registry: reg,
		limiter:  limiter,
		clk:      clk,
		opts:     opts,
		logger:   logger.With().Str("component", "bot").Logger(),
	}
	b.subscribeNotifications(bus)
	return b, nil
}

// Start polls updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("handling message")
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return userID == b.opts.AdminID
}

// allow rate limits client traffic. The provider is never throttled.
func (b *Bot) allow(ctx context.Context, userID int64) bool {
	if b.isAdmin(userID) {
		return true
	}
	allowed, err := b.limiter.Allow(ctx, userID, b.opts.CommandLimit, b.opts.CommandWindow)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("rate limit check failed")
		return true
	}
	return allowed
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.From == nil {
		return
	}
	if !b.allow(ctx, msg.From.ID) {
		b.reply(msg.Chat.ID, "Too many requests. Please try again later.")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	b.handleFreeText(ctx, msg, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, text string) {
	switch {
	case strings.HasPrefix(text, "/start"):
		b.handleStart(msg)
	case strings.HasPrefix(text, "/help"):
		b.handleHelp(msg)
	case strings.HasPrefix(text, "/about"):
		b.handleAbout(ctx, msg)
	case strings.HasPrefix(text, "/address"):
		b.handleAddress(ctx, msg)
	case strings.HasPrefix(text, "/price"):
		b.handlePrice(ctx, msg)
	case strings.HasPrefix(text, "/timeline") && b.isAdmin(msg.From.ID):
		b.handleTimeline(ctx, msg)
	case strings.HasPrefix(text, "/delete") && b.isAdmin(msg.From.ID):
		b.handleDelete(ctx, msg)
	case strings.HasPrefix(text, "/export") && b.isAdmin(msg.From.ID):
		b.handleExport(ctx, msg)
	case strings.HasPrefix(text, "/book_session"):
		b.handleBookSession(ctx, msg)
	case strings.HasPrefix(text, "/cancel_session"):
		b.handleCancelSession(ctx, msg)
	default:
		b.replyHTML(msg.Chat.ID, "<b>Unknown command</b>")
	}
}

// handleFreeText is the admin input channel: settings updates by keyword,
// anything else is treated as a slot declaration.
func (b *Bot) handleFreeText(ctx context.Context, msg *tgbotapi.Message, text string) {
	if !b.isAdmin(msg.From.ID) {
		b.replyHTML(msg.Chat.ID, "<b>Unknown command</b>")
		return
	}

	first := strings.ToLower(firstField(text))
	switch first {
	case registry.KeywordPrice, registry.KeywordAddress, registry.KeywordInfo:
		if _, err := b.registry.Apply(ctx, text); err != nil {
			b.reply(msg.Chat.ID, err.Error())
			return
		}
		b.reply(msg.Chat.ID, "Ok, changes applied.")
	default:
		created, err := b.timeline.CreateSlots(ctx, text)
		if err != nil {
			b.reply(msg.Chat.ID, err.Error())
			return
		}
		b.reply(msg.Chat.ID, formatCreated(created))
	}
}

func (b *Bot) handleStart(msg *tgbotapi.Message) {
	if b.isAdmin(msg.From.ID) {
		reply := tgbotapi.NewMessage(msg.Chat.ID,
			"Hi, admin! I'm a bot for appointments.\n"+
				"Send me session dates and times and I will help you book people. "+
				"You can also make your own reservations through the bot. "+
				"Detailed instructions are in the /help command.")
		reply.ReplyMarkup = tgbotapi.NewReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButton("/timeline"),
				tgbotapi.NewKeyboardButton("/delete"),
			),
		)
		_, _ = b.tg.Send(reply)
		return
	}
	b.reply(msg.Chat.ID,
		"Hi! I'm a bot for appointments.\n"+
			"Use the commands on the menu to book a session. "+
			"You can cancel it later through the bot and the master will be notified. "+
			"Prices, the address and info about the master are also here. Welcome!")
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) {
	common := "/book_session - Choose and book a session." +
		"\n\n/cancel_session - Cancel your booked session." +
		"\n\n/price - Shows a list of prices for the services." +
		"\n\n/address - Shows the address." +
		"\n\n/about - Shows information about the master."
	if !b.isAdmin(msg.From.ID) {
		b.reply(msg.Chat.ID, common)
		return
	}
	b.reply(msg.Chat.ID, common+
		"\n\n/timeline - Shows the full timeline with bookings."+
		"\n\n/delete - Remove sessions or whole days."+
		"\n\n/export - Download the timeline as an Excel file."+
		"\n\nNew sessions - Send a date with times, for example: 05.04 10 12 13:30."+
		"\n\nPrice update - Keyword 'price' and the price values: price 99 55 33."+
		"\n\nAddress update - Keyword 'local' and the address: local Śląska 11, Gdynia."+
		"\n\nMaster info update - Keyword 'info' and the text: info I have been cutting for 10 years.")
}

func (b *Bot) handleAbout(ctx context.Context, msg *tgbotapi.Message) {
	settings, err := b.registry.Get(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}
	b.reply(msg.Chat.ID, settings.AboutText)
}

func (b *Bot) handleAddress(ctx context.Context, msg *tgbotapi.Message) {
	settings, err := b.registry.Get(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}
	b.reply(msg.Chat.ID, settings.Address)
}

func (b *Bot) handlePrice(ctx context.Context, msg *tgbotapi.Message) {
	settings, err := b.registry.Get(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}
	b.replyHTML(msg.Chat.ID, formatPriceList(settings.Prices))
}

func (b *Bot) handleTimeline(ctx context.Context, msg *tgbotapi.Message) {
	if _, err := b.timeline.SweepExpired(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("sweep before timeline failed")
	}
	days, err := b.timeline.ListByDay(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if len(days) == 0 {
		b.reply(msg.Chat.ID, "Timeline is empty")
		return
	}
	b.replyHTML(msg.Chat.ID, formatTimeline(days))
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) {
	days, err := b.timeline.ListByDay(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if len(days) == 0 {
		b.reply(msg.Chat.ID, "Timeline is empty")
		return
	}

	b.reply(msg.Chat.ID, "Choose a session to remove:")
	for _, day := range days {
		var rows [][]tgbotapi.InlineKeyboardButton
		var buttons []tgbotapi.InlineKeyboardButton
		for _, slot := range day.Slots {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%s %s", slot.StartsAt.Format("15:04"), statusIcon(slot)),
				cbDelete+strconv.FormatInt(slot.ID, 10),
			))
			if len(buttons) == 2 {
				rows = append(rows, buttons)
				buttons = nil
			}
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Delete all day", cbDeleteDay+day.Date.Format("2006-01-02")),
		})

		dayMsg := tgbotapi.NewMessage(msg.Chat.ID, formatDayHeading(day.Date))
		dayMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		_, _ = b.tg.Send(dayMsg)
	}
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message) {
	days, err := b.timeline.ListByDay(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteTimeline(days, &buf); err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}

	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("timeline_%s.xlsx", b.clk.Now().Format("2006-01-02")),
		Bytes: buf.Bytes(),
	})
	_, _ = b.tg.Send(doc)
}

func (b *Bot) handleBookSession(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.UserName == "" {
		b.reply(msg.Chat.ID,
			"You can't book a session because you don't have a username. "+
				"Get a username so that we can give the master a link to your account, "+
				"and then come back :)")
		return
	}

	if _, err := b.timeline.SweepExpired(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("sweep before booking list failed")
	}
	days, err := b.timeline.ListAvailable(ctx)
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}
	if len(days) == 0 {
		b.reply(msg.Chat.ID, "No sessions available")
		return
	}

	b.reply(msg.Chat.ID, "Choose a session:")
	for _, day := range days {
		var rows [][]tgbotapi.InlineKeyboardButton
		var buttons []tgbotapi.InlineKeyboardButton
		for _, slot := range day.Slots {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
				slot.StartsAt.Format("15:04"),
				cbBook+strconv.FormatInt(slot.ID, 10),
			))
			if len(buttons) == 2 {
				rows = append(rows, buttons)
				buttons = nil
			}
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}

		dayMsg := tgbotapi.NewMessage(msg.Chat.ID, formatDayHeading(day.Date))
		dayMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
		_, _ = b.tg.Send(dayMsg)
	}
}

func (b *Bot) handleCancelSession(ctx context.Context, msg *tgbotapi.Message) {
	if b.isAdmin(msg.From.ID) {
		days, err := b.timeline.ListBooked(ctx)
		if err != nil {
			b.replyError(ctx, msg.Chat.ID, err)
			return
		}
		if len(days) == 0 {
			b.reply(msg.Chat.ID, "No booked sessions")
			return
		}

		b.reply(msg.Chat.ID, "Choose a session to cancel:")
		for _, day := range days {
			var rows [][]tgbotapi.InlineKeyboardButton
			for _, slot := range day.Slots {
				label := slot.StartsAt.Format("15:04")
				if slot.Customer != nil {
					label += " @" + slot.Customer.Username
				}
				rows = append(rows, []tgbotapi.InlineKeyboardButton{
					tgbotapi.NewInlineKeyboardButtonData(label, cbCancel+strconv.FormatInt(slot.ID, 10)),
				})
			}
			dayMsg := tgbotapi.NewMessage(msg.Chat.ID, formatDayHeading(day.Date))
			dayMsg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
			_, _ = b.tg.Send(dayMsg)
		}
		return
	}

	slot, err := b.timeline.ClientBooking(ctx, msg.From.ID)
	if errors.Is(err, database.ErrSlotNotFound) {
		b.reply(msg.Chat.ID, "No session booked")
		return
	}
	if err != nil {
		b.replyError(ctx, msg.Chat.ID, err)
		return
	}

	confirm := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
		"Confirm session cancellation for %s at %s",
		formatDayHeading(slot.Day()), slot.StartsAt.Format("15:04")))
	confirm.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Confirm canceling", cbCancel+strconv.FormatInt(slot.ID, 10)),
		),
	)
	_, _ = b.tg.Send(confirm)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.From == nil {
		return
	}
	_, _ = b.tg.Request(tgbotapi.NewCallback(cq.ID, ""))

	if !b.allow(ctx, cq.From.ID) {
		b.reply(cq.From.ID, "Too many requests. Please try again later.")
		return
	}

	data := cq.Data
	switch {
	case strings.HasPrefix(data, cbBook):
		b.handleBookCallback(ctx, cq, strings.TrimPrefix(data, cbBook))
	case strings.HasPrefix(data, cbCancel):
		b.handleCancelCallback(ctx, cq, strings.TrimPrefix(data, cbCancel))
	case strings.HasPrefix(data, cbDelete):
		b.handleDeleteCallback(ctx, cq, strings.TrimPrefix(data, cbDelete))
	case strings.HasPrefix(data, cbDeleteDay):
		b.handleDeleteDayCallback(ctx, cq, strings.TrimPrefix(data, cbDeleteDay))
	}
}

func (b *Bot) handleBookCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, idStr string) {
	slotID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		b.reply(cq.From.ID, "Invalid session")
		return
	}

	customer := models.Customer{
		UserID:   cq.From.ID,
		Username: cq.From.UserName,
		FullName: customerFullName(cq.From),
	}
	booked, err := b.timeline.Book(ctx, slotID, customer)
	switch {
	case errors.Is(err, database.ErrClientAlreadyBooked):
		b.replyExistingBooking(ctx, cq.From.ID)
		return
	case errors.Is(err, database.ErrSlotAlreadyBooked), errors.Is(err, database.ErrSlotNotFound):
		b.reply(cq.From.ID, "This session is no longer available, choose another one.")
		return
	case err != nil:
		b.replyError(ctx, cq.From.ID, err)
		return
	}

	// Client confirmation and the admin notice both arrive through the bus;
	// only the provider's own silent booking is confirmed here.
	if b.isAdmin(cq.From.ID) {
		b.reply(cq.From.ID, fmt.Sprintf("Reservations for %s at %s",
			formatDayHeading(booked.Day()), booked.StartsAt.Format("15:04")))
	}
}

func (b *Bot) replyExistingBooking(ctx context.Context, userID int64) {
	existing, err := b.timeline.ClientBooking(ctx, userID)
	if err != nil {
		b.reply(userID, "You are already booked. To change your session, first cancel the existing.")
		return
	}
	b.reply(userID, fmt.Sprintf(
		"You are already booked for %s at %s. To change your session, first cancel the existing.",
		formatDayHeading(existing.Day()), existing.StartsAt.Format("15:04")))
}

func (b *Bot) handleCancelCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, idStr string) {
	slotID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		b.reply(cq.From.ID, "Invalid session")
		return
	}

	byAdmin := b.isAdmin(cq.From.ID)
	if !byAdmin {
		// A client may only cancel their own booking.
		own, err := b.timeline.ClientBooking(ctx, cq.From.ID)
		if err != nil || own.ID != slotID {
			b.reply(cq.From.ID, "No session booked")
			return
		}
	}

	prior, err := b.timeline.Cancel(ctx, slotID, byAdmin)
	if errors.Is(err, database.ErrSlotNotFound) || errors.Is(err, database.ErrSlotNotAvailable) {
		b.reply(cq.From.ID, "This session is not booked anymore.")
		return
	}
	if err != nil {
		b.replyError(ctx, cq.From.ID, err)
		return
	}

	when := fmt.Sprintf("%s at %s", formatDayHeading(prior.Day()), prior.StartsAt.Format("15:04"))
	if byAdmin {
		who := ""
		if prior.Customer != nil {
			who = "@" + prior.Customer.Username + "'s "
		}
		b.reply(cq.From.ID, fmt.Sprintf("%ssession on %s has been canceled", who, when))
		return
	}
	b.reply(cq.From.ID, fmt.Sprintf("Your session for %s is cancelled", when))
}

func (b *Bot) handleDeleteCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, idStr string) {
	if !b.isAdmin(cq.From.ID) {
		return
	}
	slotID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		b.reply(cq.From.ID, "Invalid session")
		return
	}

	removed, err := b.timeline.DeleteSlot(ctx, slotID)
	if errors.Is(err, database.ErrSlotNotFound) {
		b.reply(cq.From.ID, "Session is already gone")
		return
	}
	if err != nil {
		b.replyError(ctx, cq.From.ID, err)
		return
	}

	b.reply(cq.From.ID, fmt.Sprintf("Deleted session for %s at %s",
		formatDayHeading(removed.Day()), removed.StartsAt.Format("15:04")))
}

func (b *Bot) handleDeleteDayCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, dayStr string) {
	if !b.isAdmin(cq.From.ID) {
		return
	}
	date, err := time.ParseInLocation("2006-01-02", dayStr, b.clk.Location())
	if err != nil {
		b.reply(cq.From.ID, "Invalid day")
		return
	}

	if _, err := b.timeline.DeleteDay(ctx, date); err != nil {
		b.replyError(ctx, cq.From.ID, err)
		return
	}
	b.reply(cq.From.ID, "Deleted all sessions for "+formatDayHeading(date))
}

func (b *Bot) send(chatID int64, text string) error {
	_, err := b.tg.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.send(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

func (b *Bot) replyHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

func (b *Bot) replyError(ctx context.Context, chatID int64, err error) {
	zerolog.Ctx(ctx).Error().Err(err).Int64("chat_id", chatID).Msg("request failed")
	b.reply(chatID, "Something went wrong, please try again later.")
}

func customerFullName(user *tgbotapi.User) string {
	name := user.FirstName
	if user.LastName != "" {
		name += "-" + user.LastName
	}
	return name
}

func firstField(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
