package storage

import (
	"errors"
	"time"

	"github.com/promptarchitect/studio/internal/prompt"
)

// ErrNotFound is returned when a requested record does not exist or belongs
// to another actor.
var ErrNotFound = errors.New("not found")

// HistoryItem is one persisted engineering result. ParentID links a fork
// to the item it was derived from; it is a weak reference.
type HistoryItem struct {
	ID            string        `json:"id"`
	UserID        string        `json:"-"`
	OriginalInput string        `json:"originalInput"`
	Result        prompt.Result `json:"result"`
	CustomTitle   string        `json:"customTitle,omitempty"`
	ParentID      string        `json:"parentId,omitempty"`
	Favorite      bool          `json:"favorite"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Favorite joins an actor to a history item.
type Favorite struct {
	ID        string      `json:"id"`
	HistoryID string      `json:"historyId"`
	CreatedAt time.Time   `json:"createdAt"`
	Item      HistoryItem `json:"item"`
}

// Lineage is the fork neighbourhood of one history item.
type Lineage struct {
	Item     HistoryItem   `json:"item"`
	Parent   *HistoryItem  `json:"parent"`
	Children []HistoryItem `json:"children"`
	Siblings []HistoryItem `json:"siblings"`
}

// Themes accepted in user settings.
var Themes = []string{"light", "dark", "system"}

// DefaultTheme applies when an actor has no settings row.
const DefaultTheme = "dark"

// Settings are an actor's preferences. Empty model or provider means the
// server defaults apply.
type Settings struct {
	DefaultModel    string    `json:"defaultModel"`
	DefaultProvider string    `json:"defaultProvider"`
	Theme           string    `json:"theme"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
