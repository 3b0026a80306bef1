package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGVisionBot/internal/config"
	"github.com/digkill/TGVisionBot/internal/models"
	"github.com/digkill/TGVisionBot/internal/service"
	"github.com/digkill/TGVisionBot/pkg/logger"
)

// API is the slice of the Telegram bot API the dispatcher uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// MediaGateway hosts media and runs transform jobs.
type MediaGateway interface {
	HostMedia(ctx context.Context, data []byte, contentType string) (string, error)
	RunJob(ctx context.Context, job models.TransformJob) models.JobResult
}

// JobLogger records dispatched jobs for auditing. Optional.
type JobLogger interface {
	Log(ctx context.Context, userID string, kind models.JobKind, prompt string, ok bool) error
}

const (
	callbackModeChat  = "mode:chat"
	callbackModeImage = "mode:image"
	callbackModeEdit  = "mode:edit"
	callbackModeCode  = "mode:code"
)

// Bot is the request dispatcher: it resolves account and session for every
// inbound event, gates billable actions on the quota ledger, routes by
// session mode and hands I/O to the gateway. Each update is handled on its
// own goroutine; the quota service's per-user lock is never held across a
// gateway call.
type Bot struct {
	cfg        config.Config
	api        API
	log        *slog.Logger
	quota      *service.QuotaService
	gateway    MediaGateway
	jobs       JobLogger
	state      *StateManager
	httpClient *http.Client
}

func NewBot(cfg config.Config, api API, log *slog.Logger, quota *service.QuotaService, gateway MediaGateway, jobs JobLogger) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		quota:      quota,
		gateway:    gateway,
		jobs:       jobs,
		state:      NewStateManager(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				msg := update.Message
				go b.handleMessage(ctx, msg)
			} else if update.CallbackQuery != nil {
				cb := update.CallbackQuery
				go b.handleCallback(ctx, cb)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := userIDOf(msg)

	if _, err := b.quota.EnsureAccount(ctx, userID); err != nil {
		b.log.Error("ensure account", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, userID)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg, userID)
		return
	}

	if strings.TrimSpace(msg.Text) != "" {
		b.handleText(ctx, msg, userID)
		return
	}

	b.sendText(msg.Chat.ID, "Send me text or a photo, or pick a mode with /mode.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, userID string) {
	switch msg.Command() {
	case "start":
		b.state.SetMode(msg.Chat.ID, models.ModeIdle)
		text := fmt.Sprintf(
			"Hi, %s!\n\nYou get %d free credits a day; each generation costs one. Premium accounts are unlimited.\n\nCommands:\n/mode — choose what I do with your next message\n/balance — check your credits\n/refer <userId> — claim a referral bonus for the user who invited you\n/help — this message",
			firstNameOf(msg), b.cfg.FreeDailyCredits,
		)
		b.sendText(msg.Chat.ID, text)
		b.sendModeMenu(msg.Chat.ID)
	case "mode":
		b.sendModeMenu(msg.Chat.ID)
	case "balance":
		b.handleBalance(ctx, msg, userID)
	case "refer":
		b.handleRefer(ctx, msg, userID)
	case "add_premium":
		b.handleAddPremium(ctx, msg)
	case "help":
		b.sendText(msg.Chat.ID, "Use /mode to pick a mode: chat, image generation, photo editing or code. Then just send text (or a photo first, in edit mode).")
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Use /mode to get started.")
	}
}

func (b *Bot) handleBalance(ctx context.Context, msg *tgbotapi.Message, userID string) {
	unlock := b.quota.Lock(userID)
	err := b.quota.ResetIfStale(ctx, userID)
	unlock()
	if err != nil {
		b.log.Error("reset before balance", "user", userID, logger.Err(err))
	}

	account, err := b.quota.Account(ctx, userID)
	if err != nil {
		b.log.Error("load balance", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Could not load your balance, please try again.")
		return
	}
	status := "free"
	if account.IsPremium {
		status = "premium"
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Balance:\nCredits: %d\nPlan: %s\nReferrals: %d", account.Credits, status, len(account.Referrals)))
}

// handleRefer credits the referrer named in the command; the sender is the
// referee. Referral commands bypass the quota gate entirely.
func (b *Bot) handleRefer(ctx context.Context, msg *tgbotapi.Message, userID string) {
	referrerID := strings.TrimSpace(msg.CommandArguments())
	if referrerID == "" {
		b.sendText(msg.Chat.ID, "Usage: /refer <userId>")
		return
	}

	err := b.quota.GrantReferralBonus(ctx, referrerID, userID)
	switch {
	case err == nil:
		b.sendText(msg.Chat.ID, "Referral registered, thanks!")
	case err == service.ErrSelfReferral:
		b.sendText(msg.Chat.ID, "You cannot refer yourself.")
	case err == service.ErrDuplicateReferral:
		b.sendText(msg.Chat.ID, "This referral has already been used.")
	case err == service.ErrUnknownAccount:
		b.sendText(msg.Chat.ID, "That user is not registered here yet.")
	default:
		b.log.Error("grant referral", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Could not register the referral, please try again.")
	}
}

func (b *Bot) handleAddPremium(ctx context.Context, msg *tgbotapi.Message) {
	if b.cfg.AdminTelegramID == 0 || msg.From == nil || msg.From.ID != b.cfg.AdminTelegramID {
		b.sendText(msg.Chat.ID, "This command is restricted.")
		return
	}
	target := strings.TrimSpace(msg.CommandArguments())
	if target == "" {
		b.sendText(msg.Chat.ID, "Usage: /add_premium <userId>")
		return
	}
	if err := b.quota.GrantPremium(ctx, target); err != nil {
		b.log.Error("grant premium", "target", target, logger.Err(err))
		b.sendText(msg.Chat.ID, "Could not grant premium, please try again.")
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("User %s is now premium.", target))
}

func (b *Bot) sendModeMenu(chatID int64) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💬 Chat", callbackModeChat),
			tgbotapi.NewInlineKeyboardButtonData("🎨 Image", callbackModeImage),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🖼 Edit photo", callbackModeEdit),
			tgbotapi.NewInlineKeyboardButtonData("🧑‍💻 Code", callbackModeCode),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Choose a mode:")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send mode menu", logger.Err(err))
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	var mode models.Mode
	var hint string
	switch cb.Data {
	case callbackModeChat:
		mode, hint = models.ModeChat, "Chat mode: send me anything."
	case callbackModeImage:
		mode, hint = models.ModeTextToImage, "Image mode: describe the picture you want."
	case callbackModeEdit:
		mode, hint = models.ModeImageToImage, "Edit mode: send a photo, then tell me what to do with it."
	case callbackModeCode:
		mode, hint = models.ModeCode, "Code mode: describe the code you need."
	default:
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Unknown choice")); err != nil {
			b.log.Error("callback ack", logger.Err(err))
		}
		return
	}

	// Switching modes always clears a pending photo; quota is untouched.
	b.state.SetMode(chatID, mode)
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Mode selected")); err != nil {
		b.log.Error("callback ack", logger.Err(err))
	}
	b.sendText(chatID, hint)
}

// handlePhoto stages a photo for a follow-up prompt in edit mode. Hosting
// the photo is not billable itself, but it leads straight into a billable
// transform, so a broke account is turned away before any hosting call or
// session mutation.
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message, userID string) {
	session := b.state.Get(msg.Chat.ID)
	if session.Mode != models.ModeImageToImage {
		b.sendText(msg.Chat.ID, "To edit a photo, switch to Edit mode first (/mode).")
		return
	}

	unlock := b.quota.Lock(userID)
	if err := b.quota.ResetIfStale(ctx, userID); err != nil {
		unlock()
		b.log.Error("reset if stale", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	allowed, err := b.quota.CanConsume(ctx, userID)
	unlock()
	if err != nil {
		b.log.Error("check quota", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	if !allowed {
		b.sendText(msg.Chat.ID, "You are out of credits for today. They refresh daily, or ask a friend to /refer you.")
		return
	}

	photo := msg.Photo[len(msg.Photo)-1]
	data, contentType, err := b.downloadFile(ctx, photo.FileID)
	if err != nil {
		b.log.Error("download photo", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "I could not read that photo, please send it again.")
		return
	}

	assetURL, err := b.gateway.HostMedia(ctx, data, contentType)
	if err != nil {
		b.log.Error("host photo", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "I could not store that photo, please try again.")
		return
	}

	b.state.SetPending(msg.Chat.ID, assetURL)
	b.sendText(msg.Chat.ID, "Got the photo. Now tell me what to do with it.")
}

func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message, userID string) {
	session := b.state.Get(msg.Chat.ID)

	var kind models.JobKind
	switch session.Mode {
	case models.ModeChat:
		kind = models.JobChat
	case models.ModeCode:
		kind = models.JobCode
	case models.ModeTextToImage:
		kind = models.JobTextToImage
	case models.ModeImageToImage:
		kind = models.JobImageToImage
	default:
		if !b.cfg.IdleChatFallback {
			b.sendText(msg.Chat.ID, "Pick a mode first with /mode.")
			return
		}
		kind = models.JobChat
	}

	// Quota gate: the credit is reserved inside the lock, before anything
	// else happens. On refusal there is no session mutation and no gateway
	// call; a reserved credit is refunded unless the attempt ends in a
	// delivered success.
	unlock := b.quota.Lock(userID)
	if err := b.quota.ResetIfStale(ctx, userID); err != nil {
		unlock()
		b.log.Error("reset if stale", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
		return
	}
	charged, err := b.quota.Reserve(ctx, userID)
	unlock()
	if err == service.ErrQuotaExceeded {
		b.sendText(msg.Chat.ID, "You are out of credits for today. They refresh daily, or ask a friend to /refer you.")
		return
	}
	if err != nil {
		b.log.Error("reserve credit", "user", userID, logger.Err(err))
		b.sendText(msg.Chat.ID, "Something went wrong, please try again.")
		return
	}

	job := models.TransformJob{Kind: kind, Prompt: msg.Text}
	if kind == models.JobImageToImage {
		asset, ok := b.state.TakePending(msg.Chat.ID)
		if !ok {
			b.refund(ctx, userID, charged)
			b.sendText(msg.Chat.ID, "Send me the photo to edit first.")
			return
		}
		job.ImageURL = asset
	}

	b.runAndDeliver(ctx, msg.Chat.ID, userID, job, charged)
}

// refund gives a reserved credit back after an attempt that did not end in
// a delivered success.
func (b *Bot) refund(ctx context.Context, userID string, charged bool) {
	if !charged {
		return
	}
	if err := b.quota.Refund(ctx, userID); err != nil {
		b.log.Error("refund credit", "user", userID, logger.Err(err))
	}
}

// runAndDeliver executes one job against the gateway and delivers its
// outcome. A chat-action ticker runs while the job is in flight and always
// stops when it settles. The credit reserved at admission sticks only for a
// delivered success; every other outcome refunds it.
func (b *Bot) runAndDeliver(ctx context.Context, chatID int64, userID string, job models.TransformJob, charged bool) {
	rev := b.state.Rev(chatID)

	done := make(chan struct{})
	go b.chatActionLoop(ctx, chatID, chatActionFor(job.Kind), done)

	result := b.gateway.RunJob(ctx, job)
	close(done)

	if b.jobs != nil {
		if err := b.jobs.Log(ctx, userID, job.Kind, job.Prompt, result.OK); err != nil {
			b.log.Error("log job", "user", userID, logger.Err(err))
		}
	}

	// The user switched modes while this job was in flight: the result no
	// longer answers the current conversation. Close the loop with a note,
	// deliver nothing, bill nothing.
	if b.state.Rev(chatID) != rev {
		b.refund(ctx, userID, charged)
		b.log.Info("dropping late job result", "user", userID, "kind", job.Kind)
		b.sendText(chatID, "Your earlier request finished after you switched modes, so I discarded the result.")
		return
	}

	if !result.OK {
		b.refund(ctx, userID, charged)
		switch result.Reason {
		case models.ReasonTimeout:
			b.sendText(chatID, "That took too long and timed out. You were not charged — please try again.")
		default:
			b.sendText(chatID, "Generation failed. You were not charged — please try again.")
		}
		b.finishJob(chatID, rev, job.Kind)
		return
	}

	if !b.deliver(chatID, job.Kind, result) {
		b.refund(ctx, userID, charged)
		b.finishJob(chatID, rev, job.Kind)
		return
	}

	b.finishJob(chatID, rev, job.Kind)
}

// deliver sends the job payload and reports whether it went out.
func (b *Bot) deliver(chatID int64, kind models.JobKind, result models.JobResult) bool {
	if result.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(result.ImageURL))
		if _, err := b.api.Send(photo); err != nil {
			b.log.Error("send photo", logger.Err(err))
			b.sendText(chatID, "Generation succeeded but I could not deliver the image. You were not charged.")
			return false
		}
		return true
	}

	text := result.Text
	if kind == models.JobCode {
		text = "```\n" + strings.Trim(text, "\n") + "\n```"
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if kind == models.JobCode {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text reply", logger.Err(err))
		b.sendText(chatID, "Generation succeeded but I could not deliver the reply. You were not charged.")
		return false
	}
	return true
}

// finishJob applies the post-job mode policy: one-shot modes return the
// session to idle, chat and code persist.
func (b *Bot) finishJob(chatID int64, rev uint64, kind models.JobKind) {
	if kind == models.JobTextToImage || kind == models.JobImageToImage {
		b.state.ReturnToIdle(chatID, rev)
	}
}

func (b *Bot) chatActionLoop(ctx context.Context, chatID int64, action string, done <-chan struct{}) {
	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	b.sendChatAction(chatID, action)
	for {
		select {
		case <-ticker.C:
			b.sendChatAction(chatID, action)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) sendChatAction(chatID int64, action string) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		b.log.Error("send chat action", logger.Err(err))
	}
}

func chatActionFor(kind models.JobKind) string {
	switch kind {
	case models.JobTextToImage, models.JobImageToImage:
		return tgbotapi.ChatUploadPhoto
	default:
		return tgbotapi.ChatTyping
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("file path empty")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", b.cfg.BotToken, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx > 0 {
		contentType = contentType[:idx]
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(body)
	}
	return body, contentType, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", logger.Err(err))
	}
}

func userIDOf(msg *tgbotapi.Message) string {
	if msg.From != nil {
		return strconv.FormatInt(msg.From.ID, 10)
	}
	return strconv.FormatInt(msg.Chat.ID, 10)
}

func firstNameOf(msg *tgbotapi.Message) string {
	if msg.From != nil && msg.From.FirstName != "" {
		return msg.From.FirstName
	}
	return "there"
}
