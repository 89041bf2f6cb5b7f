package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// AttemptDraftsKey returns the hash key holding a student's autosaved answer drafts.
func (r *CacheKeyStruct) AttemptDraftsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:drafts", attemptID)
}

// AttemptDeadlineKey returns the key holding an attempt's absolute deadline (unix).
func (r *CacheKeyStruct) AttemptDeadlineKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:deadline", attemptID)
}

// AttemptStartKey returns the key holding an attempt's start time (unix).
func (r *CacheKeyStruct) AttemptStartKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:started_at", attemptID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam's live monitor.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
