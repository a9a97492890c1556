package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidateHandle validates a platform handle query value.
func ValidateHandle(handle string) error {
	if handle == "" {
		return errors.New("handle cannot be empty")
	}
	if len(handle) > 64 {
		return errors.New("handle exceeds maximum length")
	}
	return nil
}

// ValidateMessageText validates the body of a staff reply.
func ValidateMessageText(text string) error {
	if len(text) == 0 {
		return errors.New("text cannot be empty")
	}
	if len(text) > 5000 {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}
