package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrUnknownCategory = errors.New("notification: unknown category")

// Category is the closed set of notification destinations.
type Category string

const (
	CategoryUpdates       Category = "updates"
	CategoryMedia         Category = "media"
	CategoryTasks         Category = "tasks"
	CategoryOnboarding    Category = "onboarding"
	CategoryAnnouncements Category = "announcements"
	CategoryHomelab       Category = "homelab"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryUpdates,
	CategoryMedia,
	CategoryTasks,
	CategoryOnboarding,
	CategoryAnnouncements,
	CategoryHomelab,
}

// categoryAliases maps normalized keys to categories. Keys are normalized
// with normalizeCategoryKey before lookup.
var categoryAliases = map[string]Category{
	"updates":                         CategoryUpdates,
	"update":                          CategoryUpdates,
	"container_updates":               CategoryUpdates,
	"media":                           CategoryMedia,
	"media_downloads":                 CategoryMedia,
	"downloads":                       CategoryMedia,
	"tasks":                           CategoryTasks,
	"task":                            CategoryTasks,
	"claude_tasks":                    CategoryTasks,
	"onboarding":                      CategoryOnboarding,
	"new_service_onboarding":          CategoryOnboarding,
	"new_service_onboarding_workflow": CategoryOnboarding,
	"announcements":                   CategoryAnnouncements,
	"announcement":                    CategoryAnnouncements,
	"homelab":                         CategoryHomelab,
	"argus":                           CategoryHomelab,
	"argus_assistant":                 CategoryHomelab,
}

func normalizeCategoryKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.NewReplacer("-", "_", " ", "_").Replace(key)
}

// ParseCategory resolves a category name or alias. Matching ignores case and
// treats hyphens, spaces and underscores as the same character.
func ParseCategory(key string) (Category, error) {
	if c, ok := categoryAliases[normalizeCategoryKey(key)]; ok {
		return c, nil
	}
	return "", ErrUnknownCategory
}

// Color is the accent of a rich message.
type Color string

const (
	ColorInfo    Color = "blue"
	ColorWarning Color = "yellow"
	ColorSuccess Color = "green"
	ColorError   Color = "red"
	ColorAlert   Color = "orange"
	ColorMuted   Color = "grey"
)

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Message is a rich chat message.
type Message struct {
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Color     Color     `json:"color,omitempty"`
	Fields    []Field   `json:"fields,omitempty"`
	Footer    string    `json:"footer,omitempty"`
	Reactions []string  `json:"reactions,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Message) AddField(name, value string, inline bool) {
	m.Fields = append(m.Fields, Field{Name: name, Value: value, Inline: inline})
}

// ChannelHandle is a resolved chat channel.
type ChannelHandle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageRef identifies a delivered message.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Reaction is an inbound reaction event from a chat client.
type Reaction struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// Reaction emoji
const (
	EmojiApprove     = "👍"
	EmojiReject      = "👎"
	EmojiCancel      = "❌"
	EmojiWastebasket = "🗑️"
)

// NumberEmoji are the keycap digits used to pick a single proposal action.
var NumberEmoji = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// NumberIndex returns the zero-based index of a keycap emoji.
func NumberIndex(emoji string) (int, bool) {
	for i, e := range NumberEmoji {
		if e == emoji {
			return i, true
		}
	}
	return 0, false
}
