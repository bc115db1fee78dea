package telegram

import (
	"sync"
	"time"
)

const (
	defaultDebounce = 1200 * time.Millisecond
	maxPhotoBytes   = 10 << 20
)

// photoBatch collects the photos of one album, or of one chat when photos
// arrive one by one, until the chat goes quiet.
type photoBatch struct {
	ChatID int64
	UserID int64
	Key    string // "grp:<mediaGroupID>" | "chat:<chatID>"

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
}

// chatState is what the bot remembers per chat: the quota token a browser
// would keep in its cookie.
type chatState struct {
	tokens  sync.Map // chatID -> string
	batches sync.Map // key -> *photoBatch
}

func (s *chatState) token(chatID int64) string {
	if v, ok := s.tokens.Load(chatID); ok {
		if t, _ := v.(string); t != "" {
			return t
		}
	}
	return ""
}

func (s *chatState) setToken(chatID int64, tok string) {
	if tok == "" {
		return
	}
	s.tokens.Store(chatID, tok)
}
