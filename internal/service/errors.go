package service

import "errors"

var (
	ErrClusterNotFound     = errors.New("cluster not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidFeedbackType = errors.New("invalid feedback type")
	ErrRunInProgress       = errors.New("a clustering run is already in progress")
	ErrRunNotFound         = errors.New("clustering run not found")
	ErrArchiveDisabled     = errors.New("run archive is not configured")
)
