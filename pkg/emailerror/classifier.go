package emailerror

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
)

// Failure reasons reported to metrics and stored with the email.
const (
	ReasonHardBounce = "hard_bounce"
	ReasonSoftBounce = "soft_bounce"
	ReasonSMTP5xx    = "smtp_5xx"
	ReasonSMTP4xx    = "smtp_4xx"
	ReasonTimeout    = "timeout"
	ReasonConnection = "connection"
	ReasonUnknown    = "unknown"
)

// maxInputBytes caps how much of an SMTP response is inspected; some
// relays echo entire messages back in multiline replies.
const maxInputBytes = 50 * 1024

// ClassifiedError wraps an SMTP send failure with retry metadata.
type ClassifiedError struct {
	Original   error
	Permanent  bool
	HardBounce bool
	SMTPCode   int
	Reason     string
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Original == nil {
		return ""
	}
	return e.Original.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// Hard-bounce patterns force a permanent classification regardless of
// the reply code.
var hardBouncePatterns = compilePatterns([]string{
	`user unknown`,
	`mailbox not found`,
	`no such user`,
	`address rejected`,
	`invalid recipient`,
	`does not exist`,
	`550\s+5\.1\.1`,
})

// Soft patterns keep the failure transient even when the reply code is
// in the 5xx range (full mailboxes commonly reply 552).
var softFailurePatterns = compilePatterns([]string{
	`mailbox full`,
	`quota exceeded`,
	`temporarily`,
	`try again`,
	`451\s+`,
	`452\s+`,
})

var connectionPatterns = compilePatterns([]string{
	`connection refused`,
	`connection reset`,
	`broken pipe`,
	`no such host`,
	`network is unreachable`,
	`tls handshake`,
	`unexpected eof`,
	`^eof$`,
})

var smtpCodeRegex = regexp.MustCompile(`\b([45]\d{2})\b`)

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

func matchAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Classifier decides whether an SMTP failure is worth retrying.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify analyzes a send failure. Permanent failures are those the
// relay will never accept (bad recipients, policy 5xx); everything
// else, including socket trouble and timeouts, is transient.
func (c *Classifier) Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	if len(errStr) > maxInputBytes {
		errStr = errStr[:maxInputBytes]
	}

	result := &ClassifiedError{
		Original: err,
		SMTPCode: extractSMTPCode(errStr),
	}

	if matchAny(errStr, hardBouncePatterns) {
		result.Permanent = true
		result.HardBounce = true
		result.Reason = ReasonHardBounce
		return result
	}

	if matchAny(errStr, softFailurePatterns) {
		result.Reason = ReasonSoftBounce
		return result
	}

	if result.SMTPCode >= 500 && result.SMTPCode != 451 && result.SMTPCode != 452 {
		result.Permanent = true
		result.Reason = ReasonSMTP5xx
		return result
	}
	if result.SMTPCode >= 400 {
		result.Reason = ReasonSMTP4xx
		return result
	}

	if isTimeout(err) {
		result.Reason = ReasonTimeout
		return result
	}
	if matchAny(errStr, connectionPatterns) {
		result.Reason = ReasonConnection
		return result
	}

	result.Reason = ReasonUnknown
	return result
}

func extractSMTPCode(errStr string) int {
	matches := smtpCodeRegex.FindStringSubmatch(errStr)
	if len(matches) < 2 {
		return 0
	}
	code, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return code
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
