package panelauth

import "time"

// OutcomeKind discriminates Outcome.
type OutcomeKind uint8

const (
	// OutcomeRedirect sends the client to Target.
	OutcomeRedirect OutcomeKind = iota + 1
	// OutcomeRendered re-renders the current view with Data.
	OutcomeRendered
	// OutcomeError reports Failure.
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRendered:
		return "rendered"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of an orchestrated flow. The transport layer
// applies the cookie instructions first and then acts on Kind.
type Outcome struct {
	Kind    OutcomeKind
	Target  string
	Data    map[string]any
	Failure *Failure

	// Session is set when the flow issued a session; the transport stores
	// Session.Token in the session cookie.
	Session *IssuedCookie
	// ClearSession asks the transport to delete the session cookie.
	ClearSession bool

	// PendingTwoFactor is the short-lived marker of a login waiting for
	// its second factor. It is not a session.
	PendingTwoFactor      *IssuedCookie
	ClearPendingTwoFactor bool
}

// IssuedCookie is an opaque value and its expiry. The transport decides
// the cookie attributes.
type IssuedCookie struct {
	Token     string
	ExpiresAt time.Time
}

// Failure is the client-facing part of an error. Message never contains
// internal detail unless Detail is populated in verbose mode.
type Failure struct {
	Kind              FailureKind
	Status            int
	Message           string
	RetryAfter        time.Duration
	CorrelationID     string
	Detail            string
	AttemptsRemaining *int
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Kind.String() + ": " + f.Message
}

// OK reports whether the outcome is not an error.
func (o Outcome) OK() bool {
	return o.Kind != OutcomeError
}

func redirectTo(target string) Outcome {
	return Outcome{Kind: OutcomeRedirect, Target: target}
}

func rendered(data map[string]any) Outcome {
	return Outcome{Kind: OutcomeRendered, Data: data}
}

func errorOutcome(f Failure) Outcome {
	return Outcome{Kind: OutcomeError, Failure: &f}
}
