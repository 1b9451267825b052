package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"scholar/pkg/api"
	"scholar/pkg/llm"
)

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// TelegramChannel is the production implementation of api.Channel for the
// Telegram platform. It receives questions through long polling and sends
// answers as chunked text bubbles plus photo messages for rendered charts.
type TelegramChannel struct {
	config       TelegramConfig
	bot          *tgbotapi.BotAPI
	messageLimit int // Maximum character count per single message bubble

	// stopCtx aborts the long-polling HTTP request mid-flight on Stop();
	// without it a lingering GetUpdates call causes a 409 Conflict when
	// the bot restarts.
	stopCtx    context.Context
	stopCancel context.CancelFunc
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Dedicated HTTP client whose connections die with stopCtx, so active
	// long-polling requests abort instantly on shutdown.
	botHTTPClient := &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				mergedCtx, mergedCancel := context.WithCancel(dialCtx)
				go func() {
					select {
					case <-ctx.Done():
						mergedCancel()
					case <-mergedCtx.Done():
					}
				}()
				return dialer.DialContext(mergedCtx, network, addr)
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("✅ Telegram bot authorized", "username", bot.Self.UserName)

	if msgLimit < 1 {
		msgLimit = 4000
	}

	return &TelegramChannel{
		config:       cfg,
		bot:          bot,
		messageLimit: msgLimit,
		stopCtx:      ctx,
		stopCancel:   cancel,
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine,
// mapping incoming Telegram messages into the internal UnifiedMessage format.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	offset := 0

	// Manual GetUpdates loop instead of GetUpdatesChan so the offset stays
	// under our control and the loop exits cleanly on stopCtx.
	go func() {
		for {
			select {
			case <-t.stopCtx.Done():
				return
			default:
			}

			reqConfig := tgbotapi.NewUpdate(offset)
			reqConfig.Timeout = 60

			updates, err := t.bot.GetUpdates(reqConfig)
			if err != nil {
				select {
				case <-t.stopCtx.Done():
					return
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID < offset {
					continue
				}
				offset = update.UpdateID + 1

				if update.Message == nil {
					continue
				}

				content := update.Message.Text
				if content == "" {
					content = update.Message.Caption
				}
				if content == "" {
					continue
				}

				session := api.SessionContext{
					ChannelID: "telegram",
					UserID:    strconv.FormatInt(update.Message.From.ID, 10),
					ChatID:    strconv.FormatInt(update.Message.Chat.ID, 10),
					Username:  update.Message.From.UserName,
				}

				ctx.OnMessage(t.ID(), &api.UnifiedMessage{
					Session: session,
					Content: content,
				})
			}
		}
	}()

	return nil
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel()

	// Clear the connection pool; the aborted dial context takes care of the
	// in-flight long poll.
	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}

	return nil
}

// SendSignal implements the api.SignalingChannel interface. Thinking and
// tool-progress signals both surface as the native typing indicator.
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal != "thinking" && !strings.HasPrefix(signal, "tool:") {
		return nil
	}
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, err = t.bot.Send(action)
	return err
}

func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	msgRunes := []rune(message)
	totalLen := len(msgRunes)

	if totalLen <= t.messageLimit {
		msg := tgbotapi.NewMessage(chatID, message)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send failed: %w", err)
		}
		return nil
	}

	// Long answers go out as multiple bubbles.
	for i := 0; i < totalLen; i += t.messageLimit {
		end := i + t.messageLimit
		if end > totalLen {
			end = totalLen
		}
		chunk := string(msgRunes[i:end])
		msg := tgbotapi.NewMessage(chatID, chunk)
		if _, err := t.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram send chunk failed at index %d: %w", i, err)
		}
	}

	return nil
}

func (t *TelegramChannel) sendPhoto(session api.SessionContext, block llm.ContentBlock) error {
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return err
	}

	if block.Source == nil {
		return fmt.Errorf("image source is nil")
	}

	var photo tgbotapi.Chattable
	switch {
	case block.Source.Type == "base64" && len(block.Source.Data) > 0:
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "chart.png",
			Bytes: block.Source.Data,
		})
	case block.Source.Type == "url":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(block.Source.URL))
	case block.Source.Type == "file" && block.Source.Path != "":
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(block.Source.Path))
	default:
		return fmt.Errorf("unsupported image source type: %s", block.Source.Type)
	}

	_, err = t.bot.Send(photo)
	return err
}

// Stream implements the streaming response protocol for Telegram.
// Since Telegram doesn't natively support mid-message streaming updates,
// this implementation uses an "Accumulation + Buffered Flush" strategy:
// 1. Thinking blocks are collected and sent as an initial bubble.
// 2. Text blocks are aggregated until the stream ends or an image occurs.
// 3. Images (charts) are sent immediately as separate photo messages.
func (t *TelegramChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var thinkingBuf strings.Builder
	var textBuf strings.Builder
	var thinkingSent bool

	flushThinking := func() {
		if thinkingBuf.Len() == 0 || thinkingSent {
			return
		}
		thinkingSent = true
		if err := t.Send(session, "💭 Reasoning process:\n\n"+thinkingBuf.String()); err != nil {
			slog.Error("❌ Failed to send thinking", "error", err)
		}
	}

	for block := range blocks {
		switch block.Type {
		case llm.BlockTypeThinking:
			thinkingBuf.WriteString(block.Text)
		case llm.BlockTypeText, llm.BlockTypeError:
			flushThinking()
			textBuf.WriteString(block.Text)
		case llm.BlockTypeImage:
			// Flush accumulated text first to maintain order.
			if textBuf.Len() > 0 {
				if err := t.Send(session, textBuf.String()); err != nil {
					slog.Error("❌ Failed to send text before image", "error", err)
				}
				textBuf.Reset()
			}
			if err := t.sendPhoto(session, block); err != nil {
				slog.Error("❌ Failed to send photo", "error", err)
			}
		}
	}

	flushThinking()

	if textBuf.Len() > 0 {
		return t.Send(session, textBuf.String())
	}
	return nil
}
