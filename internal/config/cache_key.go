package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptSessionKey returns the cache key holding the attempt bound to a session credential.
func (r *CacheKeyStruct) AttemptSessionKey(jti string) string {
	return fmt.Sprintf("attempt_session:%s", jti)
}

// ExamAnswerKey returns the cache key for an exam's answer key.
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:answer_key", examID)
}

// ExamPolicyKey returns the cache key for an exam's attempt policy.
func (r *CacheKeyStruct) ExamPolicyKey(examID string) string {
	return fmt.Sprintf("exam:%s:policy", examID)
}

// PendingAnswerBatchesKey returns the counter of queued answer batches not yet applied for an attempt.
func (r *CacheKeyStruct) PendingAnswerBatchesKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:pending_batches", attemptID)
}

var CacheKey = NewCacheKeyStruct()
