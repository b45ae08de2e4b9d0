package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"studyshare/pkg/auth"
	"studyshare/pkg/domain"
	"studyshare/pkg/store"
)

// Principal is the resolved identity behind a session token. User is nil for
// the shared admin identity, which has no user row.
type Principal struct {
	Role domain.Role
	User *domain.User
}

func (p Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

// OTPIssue describes a freshly issued login code. DevCode is only populated
// when dev echo is enabled; production responses never carry the code.
type OTPIssue struct {
	ExpiresIn   int    `json:"expiresIn"`
	ResendAfter int    `json:"resendAfter"`
	DevCode     string `json:"devCode,omitempty"`
}

// RequestOTP issues a one-time login code for the phone number. Issuance is
// subject to a resend cooldown and hourly quotas per phone and per client IP.
func (a *App) RequestOTP(ctx context.Context, phone, clientIP string) (OTPIssue, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return OTPIssue{}, err
	}
	if err := a.checkSendQuota(ctx, phone, clientIP); err != nil {
		return OTPIssue{}, err
	}
	return a.issueCode(phone)
}

// ResendOTP invalidates every outstanding code for the phone number and
// issues a fresh one, so only the latest code can be redeemed.
func (a *App) ResendOTP(ctx context.Context, phone, clientIP string) (OTPIssue, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return OTPIssue{}, err
	}
	if err := a.checkSendQuota(ctx, phone, clientIP); err != nil {
		return OTPIssue{}, err
	}
	if err := a.store.InvalidateOTPs(phone); err != nil {
		return OTPIssue{}, fmt.Errorf("invalidate codes: %w", err)
	}
	return a.issueCode(phone)
}

func (a *App) checkSendQuota(ctx context.Context, phone, clientIP string) error {
	if err := a.checkResendCooldown(ctx, phone); err != nil {
		return err
	}
	if a.otpSendLimiter == nil {
		return nil
	}
	if !a.otpSendLimiter.Allow("otp:" + phone) {
		return ErrOTPRateLimited
	}
	if clientIP != "" && !a.otpSendLimiter.Allow("otp-ip:"+clientIP) {
		return ErrOTPRateLimited
	}
	return nil
}

func (a *App) issueCode(phone string) (OTPIssue, error) {
	code, err := generateNumericCode(6)
	if err != nil {
		return OTPIssue{}, fmt.Errorf("generate otp code: %w", err)
	}
	codeHash, err := auth.HashPassword(code)
	if err != nil {
		return OTPIssue{}, fmt.Errorf("hash otp code: %w", err)
	}
	otp := domain.OTP{
		ID:        store.NewID(),
		Phone:     phone,
		CodeHash:  codeHash,
		ExpiresAt: time.Now().UTC().Add(a.otpTTL),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveOTP(otp); err != nil {
		return OTPIssue{}, fmt.Errorf("save otp: %w", err)
	}
	if err := a.sms.SendOTP(phone, code); err != nil {
		return OTPIssue{}, fmt.Errorf("send otp: %w", err)
	}
	issue := OTPIssue{
		ExpiresIn:   int(a.otpTTL.Seconds()),
		ResendAfter: int(a.otpResendAfter.Seconds()),
	}
	if a.devEchoOTP {
		issue.DevCode = code
	}
	return issue, nil
}

// checkResendCooldown enforces one code per phone per cooldown window using
// a Redis SETNX key. Without Redis the cooldown is skipped.
func (a *App) checkResendCooldown(ctx context.Context, phone string) error {
	if a.redisClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	key := "studyshare:auth:otp:resend:" + phone
	allowed, err := a.redisClient.SetNX(ctx, key, "1", a.otpResendAfter).Result()
	if err != nil {
		// Fail closed: no codes while the cooldown state is unknown.
		return ErrOTPRateLimited
	}
	if !allowed {
		return ErrOTPRateLimited
	}
	return nil
}

// VerifyOTP redeems a code. On success the code is burned, the user row is
// created on first login, and a student session token is returned.
func (a *App) VerifyOTP(ctx context.Context, phone, code string) (domain.User, string, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return domain.User{}, "", err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.User{}, "", ErrOTPInvalid
	}

	otps, err := a.store.ActiveOTPs(phone)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("load otps: %w", err)
	}
	now := time.Now().UTC()
	var matched *domain.OTP
	for i := range otps {
		if !otps[i].Active(now) {
			continue
		}
		if auth.CheckPassword(code, otps[i].CodeHash) {
			matched = &otps[i]
			break
		}
	}
	if matched == nil {
		return domain.User{}, "", ErrOTPInvalid
	}
	if err := a.store.MarkOTPUsed(matched.ID); err != nil {
		return domain.User{}, "", fmt.Errorf("mark otp used: %w", err)
	}

	user, ok, err := a.store.GetUserByPhone(phone)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("get user: %w", err)
	}
	if !ok {
		user = domain.User{
			ID:        store.NewID(),
			Phone:     phone,
			Verified:  true,
			CreatedAt: now,
		}
		if err := a.store.SaveUser(user); err != nil {
			return domain.User{}, "", fmt.Errorf("create user: %w", err)
		}
		slog.Info("user_created", "user", user.ID)
	}

	token, err := a.tokens.Issue(user.ID, domain.RoleStudent)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

type ProfileInput struct {
	DisplayName    string
	RollNumber     string
	Department     string
	GraduationYear int
}

// CompleteProfile fills in the identity fields required before uploading.
func (a *App) CompleteProfile(userID string, in ProfileInput) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return domain.User{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(in.RollNumber) == "" {
		return domain.User{}, fmt.Errorf("%w: roll number is required", ErrValidation)
	}
	if in.GraduationYear != 0 && (in.GraduationYear < 2000 || in.GraduationYear > 2100) {
		return domain.User{}, fmt.Errorf("%w: graduation year out of range", ErrValidation)
	}
	user.DisplayName = strings.TrimSpace(in.DisplayName)
	user.RollNumber = strings.TrimSpace(in.RollNumber)
	user.Department = strings.TrimSpace(in.Department)
	user.GraduationYear = in.GraduationYear
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

func (a *App) CurrentUser(userID string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// AdminLogin checks the shared admin password and returns an admin session
// token. The password is compared against a bcrypt hash from configuration.
func (a *App) AdminLogin(password string) (string, error) {
	if a.adminPasswordHash == "" {
		return "", errors.New("admin login not configured")
	}
	if !auth.CheckPassword(password, a.adminPasswordHash) {
		return "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue("admin", domain.RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// VerifySession resolves a bearer token to a principal. Student tokens must
// reference a live user row.
func (a *App) VerifySession(token string) (Principal, error) {
	claims, err := a.tokens.Verify(token)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	if claims.Role == domain.RoleAdmin {
		return Principal{Role: domain.RoleAdmin}, nil
	}
	user, ok, err := a.store.GetUserByID(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return Principal{}, ErrUnauthorized
	}
	return Principal{Role: domain.RoleStudent, User: &user}, nil
}

func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-':
			// separators are dropped
		default:
			return "", fmt.Errorf("%w: phone number contains invalid characters", ErrValidation)
		}
	}
	normalized := b.String()
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return "", fmt.Errorf("%w: phone number must be 10 to 15 digits", ErrValidation)
	}
	return normalized, nil
}

func generateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
