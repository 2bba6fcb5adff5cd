package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wut-feedback/feedback-engine/pkg/models"
	"github.com/wut-feedback/feedback-engine/pkg/services"
)

// PlatformName tags messages and markers originating from Telegram.
const PlatformName = "telegram"

// Config configures the Telegram Bot API source.
type Config struct {
	// BotToken authorizes against the Bot API.
	BotToken string
	// ChatID restricts intake to one group; messages from other chats
	// are dropped.
	ChatID int64
	// BaseURL overrides the Bot API endpoint, used in tests.
	BaseURL string
	// Timeout bounds one HTTP round trip on top of the long-poll window.
	Timeout time.Duration
	// PollTimeout is the getUpdates long-poll window.
	PollTimeout time.Duration
}

// Source reads group messages through the Telegram Bot API. The Bot API
// only delivers updates that arrived after the bot joined, so bulk
// history paging walks the retained update queue rather than full chat
// history.
type Source struct {
	baseURL     string
	chatID      int64
	pollTimeout time.Duration
	client      *http.Client
	logger      *zap.Logger

	mu     sync.Mutex
	offset int64
}

// NewSource creates a Bot API message source.
func NewSource(cfg Config, logger *zap.Logger) *Source {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = 30 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Source{
		baseURL:     fmt.Sprintf("%s/bot%s", baseURL, cfg.BotToken),
		chatID:      cfg.ChatID,
		pollTimeout: pollTimeout,
		// The long-poll window rides inside the HTTP timeout.
		client: &http.Client{Timeout: timeout + pollTimeout},
		logger: logger.Named("telegram"),
	}
}

var _ services.MessageSource = (*Source)(nil)

func (s *Source) Platform() string {
	return PlatformName
}

// FetchHistory drains queued updates and returns messages with id above
// afterID, oldest first, at most limit of them.
func (s *Source) FetchHistory(ctx context.Context, afterID int64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	var out []*models.Message
	for len(out) < limit {
		updates, err := s.getUpdates(ctx, 0)
		if err != nil {
			return nil, err
		}
		if len(updates) == 0 {
			break
		}
		for _, u := range updates {
			s.advance(u.UpdateID)
			msg := s.convert(u)
			if msg == nil || msg.ID <= afterID {
				continue
			}
			out = append(out, msg)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Subscribe long-polls getUpdates until ctx is cancelled, invoking
// handler for every group message. Transient API failures are logged and
// retried after a short pause.
func (s *Source) Subscribe(ctx context.Context, handler func(*models.Message)) error {
	for {
		updates, err := s.getUpdates(ctx, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("getUpdates failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			s.advance(u.UpdateID)
			if msg := s.convert(u); msg != nil {
				handler(msg)
			}
		}
	}
}

func (s *Source) advance(updateID int64) {
	s.mu.Lock()
	if updateID >= s.offset {
		s.offset = updateID + 1
	}
	s.mu.Unlock()
}

func (s *Source) currentOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

type update struct {
	UpdateID int64       `json:"update_id"`
	Message  *apiMessage `json:"message"`
}

type apiMessage struct {
	MessageID int64 `json:"message_id"`
	From      *struct {
		ID int64 `json:"id"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Date     int64           `json:"date"`
	Text     string          `json:"text"`
	Caption  string          `json:"caption"`
	Photo    json.RawMessage `json:"photo"`
	Document json.RawMessage `json:"document"`
	Video    json.RawMessage `json:"video"`
	Voice    json.RawMessage `json:"voice"`
	Audio    json.RawMessage `json:"audio"`
	Sticker  json.RawMessage `json:"sticker"`
}

// convert maps one update to a Message, or nil when the update carries no
// message from the configured chat.
func (s *Source) convert(u update) *models.Message {
	api := u.Message
	if api == nil {
		return nil
	}
	if s.chatID != 0 && api.Chat.ID != s.chatID {
		return nil
	}

	text := api.Text
	if text == "" {
		text = api.Caption
	}
	msg := &models.Message{
		Platform: PlatformName,
		ID:       api.MessageID,
		Date:     time.Unix(api.Date, 0).UTC(),
		Text:     text,
	}
	if api.From != nil {
		authorID := api.From.ID
		msg.AuthorID = &authorID
	}
	if text == "" && api.hasAttachment() {
		msg.MediaOnly = true
	}
	return msg
}

func (m *apiMessage) hasAttachment() bool {
	for _, raw := range []json.RawMessage{m.Photo, m.Document, m.Video, m.Voice, m.Audio, m.Sticker} {
		if len(raw) > 0 && string(raw) != "null" {
			return true
		}
	}
	return false
}

func (s *Source) getUpdates(ctx context.Context, pollTimeout time.Duration) ([]update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(s.currentOffset(), 10))
	params.Set("limit", "100")
	params.Set("allowed_updates", `["message"]`)
	if pollTimeout > 0 {
		params.Set("timeout", strconv.Itoa(int(pollTimeout.Seconds())))
	}

	endpoint := fmt.Sprintf("%s/getUpdates?%s", s.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build telegram request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK          bool     `json:"ok"`
		Description string   `json:"description"`
		Result      []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("telegram getUpdates rejected: %s", envelope.Description)
	}
	return envelope.Result, nil
}
