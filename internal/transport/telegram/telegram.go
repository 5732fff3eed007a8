// Package telegram implements transport.Sender on top of the Bot API.
//
// Unlike a chat bot, this adapter never polls for updates: the engine only
// pushes voice messages out. One telebot client is kept per bot token and
// built lazily on first use (telebot's constructor performs a getMe probe,
// which doubles as the connection test).
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"audiocast/internal/transport"
	logx "audiocast/pkg/logx"
)

type Config struct {
	// SendTimeout bounds one API call including the file upload.
	SendTimeout time.Duration
}

type Sender struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func New(cfg Config, log logx.Logger) *Sender {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Sender{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: timeout},
		bots: make(map[string]*tele.Bot),
	}
}

// recipient adapts a raw chat reference ("-100123..." or "@channel") to
// telebot's Recipient interface without resolving it up front.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func (s *Sender) bot(token string) (*tele.Bot, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram: empty bot token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Client: s.http,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot init: %w", err)
	}
	s.log.Info("bot client ready",
		logx.String("username", b.Me.Username),
		logx.Int64("bot_id", b.Me.ID))
	s.bots[token] = b
	return b, nil
}

func (s *Sender) SendVoice(ctx context.Context, token, target string, voice transport.Voice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := s.bot(token)
	if err != nil {
		return err
	}

	v := &tele.Voice{File: tele.FromDisk(voice.Path)}
	v.Caption = voice.Caption

	_, err = b.Send(recipient(strings.TrimSpace(target)), v)
	if err != nil {
		return fmt.Errorf("telegram: send voice %s: %w", filepath.Base(voice.Path), err)
	}
	return nil
}

// TestConnection validates the token against the Bot API (getMe).
func (s *Sender) TestConnection(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot(token)
	return err
}
