package transport

import "strings"

// NormalizeChatID reduces a chat identifier to its stable suffix form. The
// messaging surface prefixes identifiers with service and style markers
// ("iMessage;-;chat123"); only the suffix is stable across restarts.
func NormalizeChatID(chatID string) string {
	id := strings.TrimSpace(chatID)
	if i := strings.LastIndex(id, ";"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// NormalizeSender canonicalizes a sender identity for whitelist comparison.
// Emails are lowercased; phone numbers are reduced to digits (a leading "+"
// is dropped, separators stripped).
func NormalizeSender(sender string) string {
	s := strings.TrimSpace(sender)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.ToLower(s)
	}
	return b.String()
}

// SameIdentity reports whether two sender identifiers refer to the same
// identity after normalization. Phone numbers additionally match on a
// national-number suffix so "+1 555 123 4567" equals "5551234567".
func SameIdentity(a, b string) bool {
	na, nb := NormalizeSender(a), NormalizeSender(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if isDigits(na) && isDigits(nb) {
		const minSuffix = 7 // national significant number, conservative
		if len(na) >= minSuffix && len(nb) >= minSuffix {
			return strings.HasSuffix(na, nb) || strings.HasSuffix(nb, na)
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
