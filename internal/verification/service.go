// Package verification issues and checks phone codes, email tokens and
// tracks failed logins.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/notify"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/crypto"
)

const (
	CodeLength      = 6
	CodeTTL         = 5 * time.Minute
	MaxCodeAttempts = 3
	EmailTokenTTL   = 24 * time.Hour

	MaxLoginFailures = 5
	LoginWindow      = 15 * time.Minute
)

// Purpose selects the key space of a phone code.
type Purpose string

const (
	PurposePhone Purpose = "phone_verification"
	PurposeReset Purpose = "password_reset"
)

func (p Purpose) Valid() bool { return p == PurposePhone || p == PurposeReset }

func codeKey(p Purpose, phone string) string {
	if p == PurposeReset {
		return "verify:reset:" + phone
	}
	return "verify:phone:" + phone
}

func emailKey(token string) string { return "verify:email:" + token }
func loginKey(ip string) string    { return "login:fail:" + ip }

type Service struct {
	store     Store
	sms       notify.SMSSender
	mail      notify.Mailer
	publicURL string
}

func NewService(store Store, sms notify.SMSSender, mail notify.Mailer, publicURL string) *Service {
	return &Service{store: store, sms: sms, mail: mail, publicURL: publicURL}
}

// SendPhoneCode stores a fresh code for phone and texts it. The code is
// returned so callers in development can surface it.
func (s *Service) SendPhoneCode(ctx context.Context, phone string, purpose Purpose) (string, error) {
	code, err := crypto.RandomDigits(CodeLength)
	if err != nil {
		return "", apperr.Internal("failed to generate code", err)
	}
	if err := s.store.SaveCode(ctx, codeKey(purpose, phone), code, CodeTTL); err != nil {
		return "", err
	}
	text := fmt.Sprintf("Kolesa.kz: your code is %s. It expires in %d minutes.", code, int(CodeTTL.Minutes()))
	if purpose == PurposeReset {
		text = fmt.Sprintf("Kolesa.kz: password reset code %s. Do not share it.", code)
	}
	if err := s.sms.SendSMS(ctx, phone, text); err != nil {
		return "", apperr.Unavailable("failed to send SMS")
	}
	return code, nil
}

// CheckPhoneCode validates and consumes a code.
func (s *Service) CheckPhoneCode(ctx context.Context, phone string, purpose Purpose, code string) error {
	res, err := s.store.CheckCode(ctx, codeKey(purpose, phone), code, MaxCodeAttempts)
	if err != nil {
		return err
	}
	switch res {
	case CodeOK:
		return nil
	case CodeExhausted:
		return apperr.RateLimited("too many attempts, request a new code")
	default:
		return apperr.FieldError("code", "invalid or expired verification code")
	}
}

// SendEmailToken emails a verification link for userID.
func (s *Service) SendEmailToken(ctx context.Context, userID, email string) (string, error) {
	if email == "" {
		return "", apperr.FieldError("email", "no email address on the account")
	}
	token, err := crypto.RandomHex(32)
	if err != nil {
		return "", apperr.Internal("failed to generate token", err)
	}
	if err := s.store.SaveToken(ctx, emailKey(token), userID, EmailTokenTTL); err != nil {
		return "", err
	}
	link := fmt.Sprintf("%s/verify-email?token=%s", s.publicURL, token)
	text := "Confirm your email address: " + link
	html := fmt.Sprintf(`<p>Confirm your email address:</p><p><a href="%s">%s</a></p>`, link, link)
	if err := s.mail.SendEmail(ctx, email, "Confirm your email", text, html); err != nil {
		return "", apperr.Unavailable("failed to send email")
	}
	return token, nil
}

// ConsumeEmailToken returns the user id bound to token.
func (s *Service) ConsumeEmailToken(ctx context.Context, token string) (string, error) {
	uid, err := s.store.ConsumeToken(ctx, emailKey(token))
	if err != nil {
		return "", err
	}
	if uid == "" {
		return "", apperr.FieldError("token", "invalid or expired verification token")
	}
	return uid, nil
}

// LoginAllowed fails with a rate-limit error after too many failures from ip.
func (s *Service) LoginAllowed(ctx context.Context, ip string) error {
	n, err := s.store.Count(ctx, loginKey(ip))
	if err != nil {
		return err
	}
	if n >= MaxLoginFailures {
		return apperr.RateLimited("too many login attempts, try again later")
	}
	return nil
}

func (s *Service) RecordLoginFailure(ctx context.Context, ip string) error {
	_, err := s.store.Incr(ctx, loginKey(ip), LoginWindow)
	return err
}

func (s *Service) ResetLoginFailures(ctx context.Context, ip string) error {
	return s.store.Delete(ctx, loginKey(ip))
}
