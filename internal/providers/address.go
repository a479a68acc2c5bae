package providers

import (
	"net/mail"
	"strconv"
	"strings"
)

func looksLikeEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

// looksLikePhone accepts E.164-ish numbers: optional +, 7 to 15 digits.
func looksLikePhone(addr string) bool {
	digits := strings.TrimPrefix(addr, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func contentType(body string) string {
	if isHTML(body) {
		return "text/html"
	}
	return "text/plain"
}

func isHTML(body string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(body))
	return strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html") ||
		(strings.Contains(trimmed, "</") && strings.HasPrefix(trimmed, "<"))
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
