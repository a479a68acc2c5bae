package model

import (
	"strings"
	"unicode"
)

type Recipient struct {
	ID        string            `json:"id,omitempty"`
	Address   string            `json:"address"`
	Name      string            `json:"name,omitempty"`
	StudentID string            `json:"student_id,omitempty"`
	ClassID   string            `json:"class_id,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// AudienceFilter selects recipients through the roster subsystem, e.g.
// {Role: "parent", ClassID: "7-B"}.
type AudienceFilter struct {
	Role      string   `json:"role,omitempty"`
	ClassIDs  []string `json:"class_ids,omitempty"`
	StudentID string   `json:"student_id,omitempty"`
	Group     string   `json:"group,omitempty"`
}

func (f *AudienceFilter) IsZero() bool {
	return f == nil || (f.Role == "" && len(f.ClassIDs) == 0 && f.StudentID == "" && f.Group == "")
}

// NormalizeAddress returns the key recipients are deduplicated on: emails
// are trimmed and lower-cased, phone numbers keep a leading + and digits.
// Digits from any script are folded to ASCII, so "+۹۲۳۰۰۱۲۳۴۵۶۷" and
// "+923001234567" are the same number.
func NormalizeAddress(ch Channel, address string) string {
	address = strings.TrimSpace(address)
	if ch == ChannelEmail {
		return strings.ToLower(address)
	}
	var b strings.Builder
	for i, r := range address {
		if (r == '+' || r == '＋') && i == 0 {
			b.WriteByte('+')
			continue
		}
		if d, ok := digitValue(r); ok {
			b.WriteByte(byte('0' + d))
		}
	}
	return b.String()
}

// digitValue reports the value of a decimal digit in any script. Every
// range of unicode.Nd is a run of whole 0-9 blocks starting at a zero.
func digitValue(r rune) (int, bool) {
	if r >= '0' && r <= '9' {
		return int(r - '0'), true
	}
	if r < 0x80 || !unicode.Is(unicode.Nd, r) {
		return 0, false
	}
	for _, rg := range unicode.Nd.R16 {
		if r >= rune(rg.Lo) && r <= rune(rg.Hi) {
			return int(r-rune(rg.Lo)) % 10, true
		}
	}
	for _, rg := range unicode.Nd.R32 {
		if r >= rune(rg.Lo) && r <= rune(rg.Hi) {
			return int(r-rune(rg.Lo)) % 10, true
		}
	}
	return 0, false
}

// DedupeRecipients keeps the first occurrence of every normalized address
// and drops entries whose address normalizes to nothing.
func DedupeRecipients(ch Channel, in []Recipient) []Recipient {
	seen := make(map[string]struct{}, len(in))
	out := make([]Recipient, 0, len(in))
	for _, r := range in {
		key := NormalizeAddress(ch, r.Address)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		r.Address = key
		out = append(out, r)
	}
	return out
}
