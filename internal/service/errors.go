package service

import "errors"

var (
	ErrExamNotFound         = errors.New("exam not found")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptAlreadyExists = errors.New("attempt already exists for this exam")
	ErrAttemptGraded        = errors.New("attempt already graded")
	ErrAttemptNotGraded     = errors.New("attempt not graded yet")
	ErrInvalidAnswer        = errors.New("invalid answer")
	ErrCredentialInvalid    = errors.New("attempt session invalid or expired")
	ErrInvalidThreshold     = errors.New("pass threshold must be an integer between 0 and 100")
)
