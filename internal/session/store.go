package session

import (
	"fmt"
	"strings"
	"sync"

	"streamthumb/internal/logger"
)

// ContextStream marks connection events that concern a screen-share stream
const ContextStream = "stream"

// User identifies the local account whose streams this service manages
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Stream identifies an active screen-share session owned by a user
type Stream struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id"`
	OwnerID   string `json:"owner_id"`
}

// Key derives the stream key. Guild streams use guild:channel:owner,
// direct-call streams use channel:owner.
func (s Stream) Key() string {
	if s.GuildID != "" {
		return fmt.Sprintf("%s:%s:%s", s.GuildID, s.ChannelID, s.OwnerID)
	}
	return fmt.Sprintf("%s:%s", s.ChannelID, s.OwnerID)
}

// ParseKey reconstructs a Stream from its key
func ParseKey(key string) (Stream, error) {
	parts := strings.Split(key, ":")
	switch len(parts) {
	case 2:
		return Stream{ChannelID: parts[0], OwnerID: parts[1]}, nil
	case 3:
		return Stream{GuildID: parts[0], ChannelID: parts[1], OwnerID: parts[2]}, nil
	default:
		return Stream{}, fmt.Errorf("invalid stream key: %q", key)
	}
}

// ConnectionEvent is a host-delivered connection-state change
type ConnectionEvent struct {
	Context   string `json:"context"`
	UserID    string `json:"user_id"`
	StreamKey string `json:"stream_key"`
}

// Active reports whether the event carries a live stream id
func (e ConnectionEvent) Active() bool {
	return e.StreamKey != "" && e.StreamKey != "0"
}

// Store tracks the current user and their active stream
type Store struct {
	mu     sync.RWMutex
	user   *User
	stream *Stream
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{}
}

// SetCurrentUser records the local account
func (s *Store) SetCurrentUser(u User) {
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
}

// CurrentUser returns the local account, if known
func (s *Store) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// SetActiveStream records the user's active screen-share stream
func (s *Store) SetActiveStream(st Stream) {
	s.mu.Lock()
	s.stream = &st
	s.mu.Unlock()

	logger.WithComponent("session").Info().
		Str("stream_key", st.Key()).
		Msg("Active stream recorded")
}

// SetActiveStreamKey records the active stream from its derived key
func (s *Store) SetActiveStreamKey(key string) error {
	st, err := ParseKey(key)
	if err != nil {
		return err
	}
	s.SetActiveStream(st)
	return nil
}

// ActiveStream returns the current user's active stream, if any
func (s *Store) ActiveStream() (Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stream == nil {
		return Stream{}, false
	}
	return *s.stream, true
}

// ClearActiveStream forgets the active stream when the session ends
func (s *Store) ClearActiveStream() {
	s.mu.Lock()
	had := s.stream != nil
	s.stream = nil
	s.mu.Unlock()

	if had {
		logger.WithComponent("session").Info().Msg("Active stream cleared")
	}
}
