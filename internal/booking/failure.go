package booking

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvariant is returned when a save would break a booking invariant.
var ErrInvariant = errors.New("booking: invariant violation")

type Kind int

const (
	// KindTransient faults are retried up to the configured attempt ceiling.
	KindTransient Kind = iota
	// KindPolicy failures mean no available option meets the constraints.
	KindPolicy
	// KindMissingData means the input record lacks mandatory personal data.
	KindMissingData
	// KindPostPurchase faults happen after a reference was captured.
	KindPostPurchase
	// KindPaymentAmbiguous faults happen once the payment surface was reached;
	// a purchase may or may not have gone through.
	KindPaymentAmbiguous
	// KindStopped marks a run deliberately halted before the final purchase.
	KindStopped
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPolicy:
		return "policy"
	case KindMissingData:
		return "missing_data"
	case KindPostPurchase:
		return "post_purchase"
	case KindPaymentAmbiguous:
		return "payment_ambiguous"
	case KindStopped:
		return "stopped"
	}
	return "unknown"
}

// Retryable reports whether a failure of kind k may be retried automatically.
func (k Kind) Retryable() bool { return k == KindTransient }

// Failure is a classified pipeline error.
type Failure struct {
	Kind Kind
	Step string
	Err  error
}

func (f *Failure) Error() string {
	if f.Step == "" {
		return f.Err.Error()
	}
	return fmt.Sprintf("%s: %v", f.Step, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(kind Kind, step string, err error) error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Failure{Kind: kind, Step: step, Err: err}
}

func Transient(step string, err error) error { return newFailure(KindTransient, step, err) }

func Policy(step string, err error) error { return newFailure(KindPolicy, step, err) }

func MissingData(step string, err error) error { return newFailure(KindMissingData, step, err) }

func PostPurchase(step string, err error) error { return newFailure(KindPostPurchase, step, err) }

func PaymentAmbiguous(step string, err error) error {
	return newFailure(KindPaymentAmbiguous, step, err)
}

func Stopped(step string, err error) error { return newFailure(KindStopped, step, err) }

// KindOf classifies err. Classified failures keep their kind; anything else
// coming out of the browser or network is transient, whatever its Cause.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

// Driver-level causes named by Cause.
const (
	CauseRateLimit   = "rate_limit"
	CauseChallenge   = "challenge"
	CauseBrowserGone = "browser_gone"
	CauseNetwork     = "network"
)

// Cause names what went wrong underneath a failure, independent of its
// kind. It returns "" when the error text matches no known cause.
func Cause(err error) string {
	switch {
	case err == nil:
		return ""
	case IsRateLimitError(err):
		return CauseRateLimit
	case IsCaptchaError(err):
		return CauseChallenge
	case IsBrowserGone(err):
		return CauseBrowserGone
	case IsNetworkError(err):
		return CauseNetwork
	}
	return ""
}

// StepOf returns the pipeline step recorded on err, if any.
func StepOf(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Step
	}
	return ""
}

func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "Client.Timeout") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "net::ERR_")
}

func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit")
}

func IsCaptchaError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "captcha") || strings.Contains(errStr, "challenge")
}

// IsBrowserGone reports errors raised when the page or browser went away
// underneath an operation.
func IsBrowserGone(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Target closed") ||
		strings.Contains(errStr, "target closed") ||
		strings.Contains(errStr, "browser is no longer running") ||
		strings.Contains(errStr, "use of closed network connection")
}
