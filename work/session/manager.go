package session

import (
	"sync"
	"time"
)

// KickRegistry tracks administratively-terminated users so they cannot
// reconnect for kick_secs (spec §4.8, default 90s; 0 is treated as the
// default per spec §8 boundary behaviors).
type KickRegistry struct {
	mu      sync.Mutex
	until   map[string]time.Time
	kickFor time.Duration
}

func NewKickRegistry(kickFor time.Duration) *KickRegistry {
	if kickFor <= 0 {
		kickFor = DefaultKickSecs
	}
	return &KickRegistry{until: make(map[string]time.Time), kickFor: kickFor}
}

// Kick marks username as kicked as of now.
func (k *KickRegistry) Kick(username string, now time.Time) {
	k.mu.Lock()
	k.until[username] = now.Add(k.kickFor)
	k.mu.Unlock()
}

// Blocked reports whether username is still inside its post-kick cooldown.
func (k *KickRegistry) Blocked(username string, now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	until, ok := k.until[username]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(k.until, username)
		return false
	}
	return true
}

// SleepTimer terminates a session after sleep_timer_mins elapses (spec
// §4.8 "Sleep-timed streams are terminated after sleep_timer_mins").
func SleepTimer(s *Session, d time.Duration) *time.Timer {
	if d <= 0 {
		return nil
	}
	return time.AfterFunc(d, func() {
		s.Kick()
	})
}
