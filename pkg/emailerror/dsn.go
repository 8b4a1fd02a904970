package emailerror

import (
	"regexp"
	"strings"
)

const (
	maxDSNRecipients = 100
	maxDSNExcerpt    = 500
)

// DSN carries the fields extracted from a delivery status notification
// or an inline SMTP rejection.
type DSN struct {
	BounceType    string
	BounceSubType string
	Recipients    []string
	Excerpt       string
}

var addressRegex = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractDSN pulls bounce classification, recipient addresses, and a
// short excerpt out of DSN text. Input is truncated before any regex
// runs; recipients are lowercased, deduped, and capped.
func ExtractDSN(message string) *DSN {
	if len(message) > maxInputBytes {
		message = message[:maxInputBytes]
	}

	dsn := &DSN{
		BounceType:    "soft",
		BounceSubType: "temporary_failure",
	}

	switch {
	case matchAny(message, hardBouncePatterns):
		dsn.BounceType = "hard"
		dsn.BounceSubType = "permanent_failure"
	case matchAny(message, softFailurePatterns):
		if code := extractSMTPCode(message); code == 0 || code == 552 ||
			strings.Contains(strings.ToLower(message), "full") ||
			strings.Contains(strings.ToLower(message), "quota") {
			dsn.BounceSubType = "mailbox_full"
		}
	case extractSMTPCode(message) >= 500:
		dsn.BounceType = "hard"
		dsn.BounceSubType = "permanent_failure"
	}

	seen := make(map[string]bool)
	for _, addr := range addressRegex.FindAllString(message, -1) {
		normalized := strings.ToLower(addr)
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		dsn.Recipients = append(dsn.Recipients, normalized)
		if len(dsn.Recipients) == maxDSNRecipients {
			break
		}
	}

	excerpt := message
	if len(excerpt) > maxDSNExcerpt {
		excerpt = excerpt[:maxDSNExcerpt]
	}
	dsn.Excerpt = excerpt

	return dsn
}
