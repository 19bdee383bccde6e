package panelauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/permission"
	"github.com/MrEthical07/panelauth/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    FailureKind
		status  int
		message string
	}{
		{"credentials", ErrInvalidCredentials, FailureAuthentication, http.StatusBadRequest, "Incorrect username or password"},
		{"wrapped credentials", fmt.Errorf("login: %w", ErrInvalidCredentials), FailureAuthentication, http.StatusBadRequest, "Incorrect username or password"},
		{"validation", invalid("email", "Please enter a valid email address"), FailureValidation, http.StatusBadRequest, "Please enter a valid email address"},
		{"policy", &password.PolicyError{Reason: "Password must contain at least one number"}, FailureValidation, http.StatusBadRequest, "Password must contain at least one number"},
		{"disabled", ErrAccountDisabled, FailureAuthorization, http.StatusForbidden, "This account has been disabled. Please contact an administrator."},
		{"permanent lock", &LockedError{}, FailureAuthorization, http.StatusForbidden, "Account is locked. Please contact an administrator."},
		{"bare lock", ErrAccountLocked, FailureAuthorization, http.StatusForbidden, "Account is locked."},
		{"duplicate", ErrAccountExists, FailureConflict, http.StatusConflict, "Username or email is already in use"},
		{"role in use", fmt.Errorf("delete: %w", permission.ErrRoleInUse), FailureConflict, http.StatusConflict, "Role is assigned to users and cannot be deleted"},
		{"store miss", store.ErrNotFound, FailureNotFound, http.StatusNotFound, "Not found"},
		{"delivery", ErrEmailDelivery, FailureInternal, http.StatusServiceUnavailable, "Failed to send email. Please try again later."},
		{"limiter sentinel", rate.ErrRateLimited, FailureRateLimited, http.StatusTooManyRequests, "Too many attempts. Please try again later."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			if f.Kind != tt.kind || f.Status != tt.status || f.Message != tt.message {
				t.Fatalf("Classify(%v) = {%s %d %q}, want {%s %d %q}", tt.err, f.Kind, f.Status, f.Message, tt.kind, tt.status, tt.message)
			}
			if f.CorrelationID != "" {
				t.Fatalf("unexpected correlation id %q", f.CorrelationID)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if f := Classify(nil); f.Kind != 0 || f.Message != "" {
		t.Fatalf("Classify(nil) = %+v", f)
	}
}

func TestClassifyInternalHidesCause(t *testing.T) {
	err := errors.New("pq: connection refused on 10.0.0.5")
	a := Classify(err)
	b := Classify(err)

	if a.Kind != FailureInternal || a.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected failure %+v", a)
	}
	if a.CorrelationID == "" || a.CorrelationID == b.CorrelationID {
		t.Fatalf("expected a fresh correlation id per call, got %q and %q", a.CorrelationID, b.CorrelationID)
	}
	if strings.Contains(a.Message, "10.0.0.5") {
		t.Fatalf("internal detail leaked: %q", a.Message)
	}
	if !strings.Contains(a.Message, a.CorrelationID) {
		t.Fatalf("message should carry the reference: %q", a.Message)
	}
}

func TestClassifyRateLimitMessages(t *testing.T) {
	tests := []struct {
		retry time.Duration
		want  string
	}{
		{0, "Too many attempts. Please try again later."},
		{45 * time.Second, "Too many attempts. Please try again in 45 seconds."},
		{1500 * time.Millisecond, "Too many attempts. Please try again in 2 seconds."},
		{119 * time.Second, "Too many attempts. Please try again in 119 seconds."},
		{2 * time.Minute, "Too many attempts. Please try again in 2 minutes."},
		{14*time.Minute + time.Second, "Too many attempts. Please try again in 15 minutes."},
	}
	for _, tt := range tests {
		f := Classify(&RateLimitError{Action: rate.ActionLogin, RetryAfter: tt.retry})
		if f.Kind != FailureRateLimited || f.Message != tt.want || f.RetryAfter != tt.retry {
			t.Fatalf("retry %s: got {%s %q %s}, want %q", tt.retry, f.Kind, f.Message, f.RetryAfter, tt.want)
		}
	}
}

func TestLockedErrorMessage(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		u := now.Add(d)
		return &u
	}

	tests := []struct {
		until *time.Time
		want  string
	}{
		{at(30 * time.Minute), "Account is temporarily locked. Try again in 30 minutes."},
		{at(90 * time.Second), "Account is temporarily locked. Try again in 2 minutes."},
		{at(20 * time.Second), "Account is temporarily locked. Try again in 1 minute."},
		{at(-time.Minute), "Account is temporarily locked. Try again in 1 minute."},
	}
	for _, tt := range tests {
		err := fmt.Errorf("login: %w", &LockedError{Until: tt.until, now: now})
		if got := Classify(err).Message; got != tt.want {
			t.Fatalf("until %s: got %q, want %q", tt.until.Sub(now), got, tt.want)
		}
	}
	if !errors.Is(&LockedError{}, ErrAccountLocked) {
		t.Fatal("LockedError should match ErrAccountLocked")
	}
}

func TestFailureKindString(t *testing.T) {
	if FailureRateLimited.String() != "rate_limited" || FailureKind(0).String() != "unknown" {
		t.Fatal("unexpected FailureKind names")
	}
}
