package utils

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 14

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

var markdownSpecial = regexp.MustCompile("[\\\\_*\\[\\]()~`>#+\\-=|{}.!]")

// EscapeMarkdownV2 escapes every character MarkdownV2 treats as syntax.
func EscapeMarkdownV2(text string) string {
	return markdownSpecial.ReplaceAllString(text, `\${0}`)
}

// FormatDuration renders a second count the way announcements phrase it,
// e.g. "2 hours 30 minutes" or "1 minute 5 seconds". Zero components are
// skipped, so FormatDuration(0) is the empty string.
func FormatDuration(sec int) string {
	hours := sec / 3600
	minutes := (sec - hours*3600) / 60
	seconds := sec - hours*3600 - minutes*60
	var parts []string
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 {
		parts = append(parts, plural(seconds, "second"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
