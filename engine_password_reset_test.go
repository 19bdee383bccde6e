package panelauth

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/panelauth/store"
)

func TestPasswordResetRequestIsEnumerationSafe(t *testing.T) {
	f := newFixture(t)
	u := f.createUser("alice")

	known := f.engine.RequestPasswordReset(f.ctx(), "ALICE@example.com ")
	unknown := f.engine.RequestPasswordReset(f.ctx(), "nobody@example.com")

	if known.Kind != OutcomeRendered || unknown.Kind != OutcomeRendered {
		t.Fatalf("expected rendered outcomes, got %s and %s", known.Kind, unknown.Kind)
	}
	if !reflect.DeepEqual(known, unknown) {
		t.Fatalf("outcomes differ:\n%+v\n%+v", known, unknown)
	}

	if got := len(f.outbox.To(u.Email)); got != 1 {
		t.Fatalf("expected one reset mail, got %d", got)
	}
	if got := len(f.outbox.Messages()); got != 1 {
		t.Fatalf("unknown address must not receive mail, total %d", got)
	}

	msg := f.outbox.To(u.Email)[0]
	if !strings.Contains(msg.Text, "https://panel.example.com/reset-password?token=") {
		t.Fatalf("reset link missing from mail:\n%s", msg.Text)
	}
	if !strings.Contains(msg.Text, "1 hour") {
		t.Fatalf("expiry missing from mail:\n%s", msg.Text)
	}
}

func TestPasswordResetRejectsInvalidEmail(t *testing.T) {
	f := newFixture(t)
	fail := requireFailure(t, f.engine.RequestPasswordReset(f.ctx(), "not-an-email"), FailureValidation)
	if fail.Message != "Please enter a valid email address" {
		t.Fatalf("message = %q", fail.Message)
	}
}

func TestPasswordResetTokenSingleUse(t *testing.T) {
	f := newFixture(t)
	u := f.createUser("alice")
	ctx := f.ctx()

	f.engine.RequestPasswordReset(ctx, u.Email)
	first := f.lastToken(u.Email)
	f.engine.RequestPasswordReset(ctx, u.Email)
	second := f.lastToken(u.Email)
	if first == second {
		t.Fatal("expected a fresh token per request")
	}

	if _, err := f.engine.ConsumePasswordResetToken(ctx, first); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("superseded token: expected ErrTokenInvalid, got %v", err)
	}
	userID, err := f.engine.ConsumePasswordResetToken(ctx, second)
	if err != nil || userID != u.ID {
		t.Fatalf("ConsumePasswordResetToken = %q, %v", userID, err)
	}
	if _, err := f.engine.ConsumePasswordResetToken(ctx, second); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("reused token: expected ErrTokenInvalid, got %v", err)
	}

	if len(f.activity(auditPasswordResetInvalid)) != 2 {
		t.Fatal("expected both invalid presentations to be audited")
	}
}

func TestPasswordResetTokenExpires(t *testing.T) {
	f := newFixture(t)
	u := f.createUser("alice")

	f.engine.RequestPasswordReset(f.ctx(), u.Email)
	raw := f.lastToken(u.Email)
	f.advance(61 * time.Minute)

	if _, err := f.engine.ConsumePasswordResetToken(f.ctx(), raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestResetPasswordCompletesFlow(t *testing.T) {
	f := newFixture(t)
	u := f.createUser("alice")
	f.signIn("alice")

	f.engine.RequestPasswordReset(f.ctx(), u.Email)
	raw := f.lastToken(u.Email)

	out := f.engine.ResetPassword(f.ctx(), ResetPasswordRequest{
		Token:           raw,
		NewPassword:     "Brand-new-pass2",
		ConfirmPassword: "Brand-new-pass2",
	})
	if out.Kind != OutcomeRedirect || out.Target != "/login?reset=success" {
		t.Fatalf("unexpected outcome %+v (%+v)", out, out.Failure)
	}

	sessions, err := f.store.ListUserSessions(context.Background(), u.ID, f.now)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected every session revoked, got %d (%v)", len(sessions), err)
	}

	requireFailure(t, f.login("alice", testPassword), FailureAuthentication)
	if out := f.login("alice", "Brand-new-pass2"); out.Session == nil {
		t.Fatalf("login with new password: %+v", out.Failure)
	}

	// The link cannot be used twice.
	again := f.engine.ResetPassword(f.ctx(), ResetPasswordRequest{
		Token:           raw,
		NewPassword:     "Another-pass3",
		ConfirmPassword: "Another-pass3",
	})
	requireFailure(t, again, FailureAuthentication)
}

func TestResetPasswordValidatesBeforeConsuming(t *testing.T) {
	f := newFixture(t)
	u := f.createUser("alice")
	f.engine.RequestPasswordReset(f.ctx(), u.Email)
	raw := f.lastToken(u.Email)

	mismatch := f.engine.ResetPassword(f.ctx(), ResetPasswordRequest{Token: raw, NewPassword: "Brand-new-pass2", ConfirmPassword: "Brand-new-pass3"})
	requireFailure(t, mismatch, FailureValidation)

	weak := f.engine.ResetPassword(f.ctx(), ResetPasswordRequest{Token: raw, NewPassword: "alllowercase", ConfirmPassword: "alllowercase"})
	requireFailure(t, weak, FailureValidation)

	ok := f.engine.ResetPassword(f.ctx(), ResetPasswordRequest{Token: raw, NewPassword: "Brand-new-pass2", ConfirmPassword: "Brand-new-pass2"})
	if ok.Kind != OutcomeRedirect {
		t.Fatalf("token should survive rejected submissions: %+v", ok.Failure)
	}
}

func TestResetPasswordLiftsTimedLockOnly(t *testing.T) {
	f := newFixture(t)
	timed := f.createUser("alice")
	permanent := f.createUser("bob")
	ctx := context.Background()

	if _, err := f.engine.lockout.LockAccount(ctx, timed.ID, false); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := f.engine.lockout.LockAccount(ctx, permanent.ID, true); err != nil {
		t.Fatalf("lock: %v", err)
	}

	for _, u := range []*store.User{timed, permanent} {
		f.engine.RequestPasswordReset(f.ctx(), u.Email)
		out := f.engine.ResetPassword(f.ctx(), ResetPasswordRequest{
			Token:           f.lastToken(u.Email),
			NewPassword:     "Brand-new-pass2",
			ConfirmPassword: "Brand-new-pass2",
		})
		if out.Kind != OutcomeRedirect {
			t.Fatalf("reset %s: %+v", u.Username, out.Failure)
		}
	}

	if f.user(timed.ID).IsLocked {
		t.Fatal("a timed lock should be lifted by a reset")
	}
	if !f.user(permanent.ID).IsLocked {
		t.Fatal("an administrator lock must survive a reset")
	}
}

func TestPasswordResetRequestRateLimited(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		if out := f.engine.RequestPasswordReset(f.ctx(), "nobody@example.com"); !out.OK() {
			t.Fatalf("request %d: %+v", i+1, out.Failure)
		}
	}
	requireFailure(t, f.engine.RequestPasswordReset(f.ctx(), "nobody@example.com"), FailureRateLimited)
}
