package model

import "errors"

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidLocation = errors.New("invalid location")
)
