package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const IDPrefix = "pn-"

// TimeLayout is fixed width so that lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// NewID returns a short issue or comment id: the prefix followed by the
// last 8 hex digits of a UUIDv7, which are drawn from its random bits.
func NewID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	s := u.String()
	return IDPrefix + s[len(s)-8:], nil
}

// LooksLikeID reports whether s has the shape of a generated id.
func LooksLikeID(s string) bool {
	if !strings.HasPrefix(s, IDPrefix) || len(s) != len(IDPrefix)+8 {
		return false
	}
	for _, c := range s[len(IDPrefix):] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
