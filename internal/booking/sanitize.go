package booking

import (
	"errors"
	"regexp"
	"strings"
)

const (
	maxErrorLen    = 200
	genericMessage = "An error occurred while processing the booking."
)

var (
	reCallLog   = regexp.MustCompile(`(?is)call log:.*`)
	reURL       = regexp.MustCompile(`(?i)(?:https?|wss?)://\S+`)
	reSelector  = regexp.MustCompile(`\S*\[[^\]]*\]\S*|(?:^|\s)[#.][A-Za-z][\w-]*(?:\s*>\s*\S+)*`)
	reBackquote = regexp.MustCompile("`[^`]*`")
	reSpace     = regexp.MustCompile(`\s+`)
)

type friendly struct {
	needles []string
	message string
}

// Ordered: the first matching rule wins.
var knownCauses = []friendly{
	{[]string{"ERR_INVALID_ARGUMENT"}, "External site navigation failed."},
	{[]string{"ERR_CERT_AUTHORITY_INVALID", "CERT_AUTHORITY"}, "External site certificate error."},
	{[]string{"Navigation timeout", "Timeout", "timeout", "deadline exceeded"}, "External site took too long to respond."},
	{[]string{"No hotels found", "no admissible"}, "No options found matching the criteria."},
	{[]string{"not found under any known identity"}, "Reservation not found in any provider account."},
	{[]string{"cancellation outcome not confirmed"}, "Cancellation could not be confirmed; check the provider account."},
}

// SanitizeError turns err into a short message that is safe to show outside
// the system: no stack traces, URLs or selectors.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	switch KindOf(err) {
	case KindPolicy:
		return "No options found matching the criteria."
	case KindMissingData:
		if strings.Contains(strings.ToLower(err.Error()), "date of birth") {
			return "Passenger date of birth is required."
		}
		return "Required traveller details are missing."
	case KindPaymentAmbiguous:
		return "Payment outcome unclear; booking held for manual review."
	case KindStopped:
		return "Booking stopped before the final purchase step."
	}

	msg := reCallLog.ReplaceAllString(err.Error(), "")

	for _, k := range knownCauses {
		for _, n := range k.needles {
			if strings.Contains(msg, n) {
				return k.message
			}
		}
	}

	switch Cause(errors.New(msg)) {
	case CauseRateLimit:
		return "External site is limiting requests; will retry later."
	case CauseChallenge:
		return "External site asked for human verification."
	case CauseBrowserGone:
		return "Browser closed unexpectedly."
	}

	msg = reURL.ReplaceAllString(msg, "")

	var kept []string
	for _, ln := range strings.Split(msg, "\n") {
		t := strings.TrimSpace(ln)
		if strings.HasPrefix(t, "at ") || strings.HasPrefix(t, "^") ||
			strings.HasPrefix(t, "goroutine ") || strings.Contains(t, ".go:") {
			continue
		}
		kept = append(kept, ln)
	}
	msg = strings.Join(kept, " ")

	msg = reBackquote.ReplaceAllString(msg, "")
	msg = reSelector.ReplaceAllString(msg, " ")
	msg = strings.TrimSpace(reSpace.ReplaceAllString(msg, " "))
	msg = strings.Trim(msg, ": ")

	if msg == "" {
		return genericMessage
	}
	if len(msg) > maxErrorLen {
		return truncate(msg, maxErrorLen-3) + "..."
	}
	return msg
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
