package polls

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Creation limits.
const (
	maxTitleLen  = 64
	maxOptionLen = 64
	minOptions   = 2
	maxOptions   = 15
)

// validation is pure: no store access happens here, and the identifier
// check always runs before any content check.

func validatePollID(id string) error {
	if len(id) != 36 {
		return invalidInput("Poll id is not a valid UUID-formatted identifier.")
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalidInput("Poll id is not a valid UUID-formatted identifier.")
	}
	return nil
}

func validateOptionID(id string) error {
	if len(id) != 36 {
		return invalidInput("Option id is not a valid UUID-formatted identifier.")
	}
	if _, err := uuid.Parse(id); err != nil {
		return invalidInput("Option id is not a valid UUID-formatted identifier.")
	}
	return nil
}

func validateEmoji(content string) error {
	if content == "" {
		return invalidInput("Emoji content must not be empty.")
	}
	if utf8.RuneCountInString(content) != 1 {
		return invalidInput("Emoji content must be a single character.")
	}
	return nil
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLen {
		return invalidInput("Title must be between 1 and 64 characters.")
	}
	return nil
}

func validateOptionTexts(texts []string) error {
	if len(texts) < minOptions || len(texts) > maxOptions {
		return invalidInput("A poll needs between 2 and 15 options.")
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" || len(t) > maxOptionLen {
			return invalidInput("Every option must be between 1 and 64 characters.")
		}
	}
	return nil
}
