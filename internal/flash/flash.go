package flash

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/pkg/logger"
)

const sessionKey = "flashes"

const (
	Success = "success"
	Danger  = "danger"
	Warning = "warning"
	Info    = "info"
)

type Message struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Flasher carries one-shot messages across a redirect in the session.
type Flasher struct {
	store *session.Store
}

func New(store *session.Store) *Flasher {
	return &Flasher{store: store}
}

func (f *Flasher) Add(c *fiber.Ctx, category, text string) {
	sess, err := f.store.Get(c)
	if err != nil {
		logger.Warn("Failed to open session for flash", zap.Error(err))
		return
	}

	var messages []Message
	if raw, ok := sess.Get(sessionKey).(string); ok {
		_ = json.Unmarshal([]byte(raw), &messages)
	}
	messages = append(messages, Message{Category: category, Text: text})

	data, err := json.Marshal(messages)
	if err != nil {
		return
	}
	sess.Set(sessionKey, string(data))
	if err := sess.Save(); err != nil {
		logger.Warn("Failed to save flash", zap.Error(err))
	}
}

// Pop returns pending messages and clears them.
func (f *Flasher) Pop(c *fiber.Ctx) []Message {
	sess, err := f.store.Get(c)
	if err != nil {
		return nil
	}

	raw, ok := sess.Get(sessionKey).(string)
	if !ok {
		return nil
	}
	sess.Delete(sessionKey)
	if err := sess.Save(); err != nil {
		logger.Warn("Failed to clear flash", zap.Error(err))
	}

	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil
	}
	return messages
}
