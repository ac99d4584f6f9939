package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ProgressKey returns the fast-tier hash holding a participant's in-flight answers and flags.
func (r *CacheKeyStruct) ProgressKey(userID int, scheduleID uuid.UUID) string {
	return fmt.Sprintf("proctor:progress:%d:%s", userID, scheduleID)
}

// ActiveSessionKey returns the cache key for the pointer to a participant's active session.
func (r *CacheKeyStruct) ActiveSessionKey(userID int) string {
	return fmt.Sprintf("proctor:user:%d:active_session", userID)
}

// LoginSessionKey holds the token id of a participant's current login.
func (r *CacheKeyStruct) LoginSessionKey(userID int) string {
	return fmt.Sprintf("proctor:user:%d:login", userID)
}

// LoginRateKey returns the fixed-window counter used to throttle logins per client IP.
func (r *CacheKeyStruct) LoginRateKey(ip string, window int64) string {
	return fmt.Sprintf("proctor:rate:login:%s:%d", ip, window)
}

// ViolationRateKey returns the fixed-window counter used to throttle violation reports.
func (r *CacheKeyStruct) ViolationRateKey(userID int, window int64) string {
	return fmt.Sprintf("proctor:rate:violations:%d:%d", userID, window)
}

// MonitorChannel returns the Redis PubSub channel proctors subscribe to.
func (r *CacheKeyStruct) MonitorChannel() string {
	return "proctor:monitor"
}

var CacheKey = NewCacheKeyStruct()
