package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"studyshare/internal/ratelimit"
	"studyshare/pkg/auth"
	"studyshare/pkg/domain"
	"studyshare/pkg/storage"
	"studyshare/pkg/store"
)

const testPhone = "9876543210"

func TestOTPLoginFlow(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	issue, err := a.RequestOTP(ctx, testPhone, "")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	if issue.DevCode == "" {
		t.Fatalf("expected dev echo code in test app")
	}
	if issue.ExpiresIn != int((10 * time.Minute).Seconds()) {
		t.Fatalf("expiresIn = %d, want default 10m", issue.ExpiresIn)
	}

	if _, _, err := a.VerifyOTP(ctx, testPhone, "000000"); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("wrong code expected ErrOTPInvalid, got %v", err)
	}

	user, token, err := a.VerifyOTP(ctx, testPhone, issue.DevCode)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if user.Phone != testPhone || !user.Verified {
		t.Fatalf("user = %+v", user)
	}
	if user.ProfileComplete() {
		t.Fatalf("fresh user must not have a complete profile")
	}

	principal, err := a.VerifySession(token)
	if err != nil {
		t.Fatalf("verify session: %v", err)
	}
	if principal.Role != domain.RoleStudent || principal.User == nil || principal.User.ID != user.ID {
		t.Fatalf("principal = %+v", principal)
	}

	// A code is burned on first redemption.
	if _, _, err := a.VerifyOTP(ctx, testPhone, issue.DevCode); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("reused code expected ErrOTPInvalid, got %v", err)
	}
}

func TestVerifyOTPReusesExistingUser(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	first, err := a.RequestOTP(ctx, testPhone, "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	u1, _, err := a.VerifyOTP(ctx, testPhone, first.DevCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	second, err := a.RequestOTP(ctx, testPhone, "")
	if err != nil {
		t.Fatalf("request again: %v", err)
	}
	u2, _, err := a.VerifyOTP(ctx, testPhone, second.DevCode)
	if err != nil {
		t.Fatalf("verify again: %v", err)
	}
	if u1.ID != u2.ID {
		t.Fatalf("expected one user row per phone, got %s and %s", u1.ID, u2.ID)
	}
}

func TestResendInvalidatesPriorCodes(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	first, err := a.RequestOTP(ctx, testPhone, "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	second, err := a.ResendOTP(ctx, testPhone, "")
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if _, _, err := a.VerifyOTP(ctx, testPhone, first.DevCode); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("stale code expected ErrOTPInvalid, got %v", err)
	}
	if _, _, err := a.VerifyOTP(ctx, testPhone, second.DevCode); err != nil {
		t.Fatalf("latest code should redeem: %v", err)
	}
}

func TestExpiredOTPRejected(t *testing.T) {
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}
	a, err := New(Options{
		Store:             store.NewMemoryStore(),
		Blobs:             blobs,
		Tokens:            tokens,
		AdminPasswordHash: "unused",
		OTPTTL:            time.Nanosecond,
		DevEchoOTP:        true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	issue, err := a.RequestOTP(context.Background(), testPhone, "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, _, err := a.VerifyOTP(context.Background(), testPhone, issue.DevCode); !errors.Is(err, ErrOTPInvalid) {
		t.Fatalf("expired code expected ErrOTPInvalid, got %v", err)
	}
}

func TestRequestOTPValidatesPhone(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	for _, phone := range []string{"", "12345", "not-a-phone", "12345678901234567890"} {
		if _, err := a.RequestOTP(ctx, phone, ""); !errors.Is(err, ErrValidation) {
			t.Fatalf("phone %q expected ErrValidation, got %v", phone, err)
		}
	}
	// Separators are tolerated.
	if _, err := a.RequestOTP(ctx, "+91 98765-43210", ""); err != nil {
		t.Fatalf("formatted phone should pass: %v", err)
	}
}

func TestOTPSendQuota(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "studyshare:test", 2, time.Hour)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}
	a, err := New(Options{
		Store:             store.NewMemoryStore(),
		Blobs:             blobs,
		Tokens:            tokens,
		AdminPasswordHash: "unused",
		OTPSendLimiter:    limiter,
		DevEchoOTP:        true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.RequestOTP(ctx, testPhone, ""); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if _, err := a.RequestOTP(ctx, testPhone, ""); !errors.Is(err, ErrOTPRateLimited) {
		t.Fatalf("third request expected ErrOTPRateLimited, got %v", err)
	}
	// Another phone still has quota.
	if _, err := a.RequestOTP(ctx, "9999999999", ""); err != nil {
		t.Fatalf("other phone should pass: %v", err)
	}
}

func TestOTPResendCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}
	a, err := New(Options{
		Store:             store.NewMemoryStore(),
		Blobs:             blobs,
		Tokens:            tokens,
		AdminPasswordHash: "unused",
		Redis:             client,
		OTPResendAfter:    time.Minute,
		DevEchoOTP:        true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx := context.Background()
	if _, err := a.RequestOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := a.ResendOTP(ctx, testPhone, ""); !errors.Is(err, ErrOTPRateLimited) {
		t.Fatalf("immediate resend expected ErrOTPRateLimited, got %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := a.ResendOTP(ctx, testPhone, ""); err != nil {
		t.Fatalf("resend after cooldown: %v", err)
	}
}

func TestCompleteProfile(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	issue, err := a.RequestOTP(ctx, testPhone, "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	user, _, err := a.VerifyOTP(ctx, testPhone, issue.DevCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := a.CompleteProfile(user.ID, ProfileInput{DisplayName: "Asha"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing roll expected ErrValidation, got %v", err)
	}
	updated, err := a.CompleteProfile(user.ID, ProfileInput{
		DisplayName:    "Asha",
		RollNumber:     "21bce123",
		Department:     "CSE",
		GraduationYear: 2026,
	})
	if err != nil {
		t.Fatalf("complete profile: %v", err)
	}
	if !updated.ProfileComplete() {
		t.Fatalf("expected complete profile, got %+v", updated)
	}
	if _, err := a.CompleteProfile("missing", ProfileInput{DisplayName: "X", RollNumber: "1"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user expected ErrUserNotFound, got %v", err)
	}
}

func TestAdminLogin(t *testing.T) {
	a := newTestApp(t)

	if _, err := a.AdminLogin("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password expected ErrInvalidCredentials, got %v", err)
	}
	token, err := a.AdminLogin("admin-pass")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	principal, err := a.VerifySession(token)
	if err != nil {
		t.Fatalf("verify session: %v", err)
	}
	if !principal.IsAdmin() || principal.User != nil {
		t.Fatalf("principal = %+v, want admin without user row", principal)
	}
}

func TestVerifySessionRejectsUnknownUser(t *testing.T) {
	a := newTestApp(t)
	token, err := a.tokens.Issue("ghost-user", domain.RoleStudent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.VerifySession(token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := a.VerifySession("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("garbage token expected ErrUnauthorized, got %v", err)
	}
}
