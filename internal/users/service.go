package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/phone"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/crypto"
)

var ErrNotFound = errors.New("user not found")

const MinPasswordLength = 8

// Service encapsulates user-related business logic
type Service struct {
	repo    UserRepository
	devices DeviceRepository
	reviews ReviewRepository
}

func NewService(r UserRepository, d DeviceRepository, rv ReviewRepository) *Service {
	return &Service{repo: r, devices: d, reviews: rv}
}

// NewMemoryService wires the service to in-memory repositories.
func NewMemoryService() *Service {
	return NewService(NewMemoryRepository(), NewMemoryDeviceRepository(), NewMemoryReviewRepository())
}

type RegisterInput struct {
	Phone     string
	Email     string
	Password  string
	FirstName string
	LastName  string
	UserType  string
}

// Register creates a new account with a normalized phone and hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	ph, err := phone.Normalize(in.Phone)
	if err != nil {
		return nil, apperr.FieldError("phone", "invalid phone number")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, apperr.FieldError("email", "invalid email")
		}
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.FieldError("password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	userType := in.UserType
	switch userType {
	case "":
		userType = models.UserTypeRegular
	case models.UserTypeRegular, models.UserTypePro, models.UserTypeDealer:
	default:
		return nil, apperr.FieldError("user_type", "must be one of: regular pro dealer")
	}

	if existing, err := s.repo.GetByPhone(ctx, ph); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperr.Conflict("user with this phone already exists")
	}
	if email != "" {
		if existing, err := s.repo.GetByEmail(ctx, email); err != nil {
			return nil, err
		} else if existing != nil {
			return nil, apperr.Conflict("user with this email already exists")
		}
	}

	hash, err := crypto.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal("failed to hash password", err)
	}
	now := time.Now().UTC()
	u := &models.User{
		ID:                 uuid.NewString(),
		Phone:              ph,
		Email:              email,
		PasswordHash:       hash,
		FirstName:          strings.TrimSpace(in.FirstName),
		LastName:           strings.TrimSpace(in.LastName),
		UserType:           userType,
		VerificationStatus: models.VerificationPending,
		IsActive:           true,
		Settings:           models.DefaultSettings(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("%s", err.Error())
		}
		return nil, err
	}
	return u, nil
}

// Authenticate checks credentials. The identifier is an email when it
// contains "@", otherwise a phone number.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	u, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if u == nil || u.PasswordHash == "" || crypto.ComparePassword(u.PasswordHash, password) != nil {
		return nil, apperr.Unauthenticated("invalid credentials")
	}
	if !u.IsActive {
		return nil, apperr.Unauthenticated("invalid credentials")
	}
	now := time.Now().UTC()
	if u.BlockedAt(now) {
		return nil, apperr.Forbidden("account is blocked")
	}
	if u.IsBlocked {
		u.IsBlocked, u.BlockedUntil, u.BlockedReason = false, nil, ""
	}
	u.LastLogin = &now
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return s.repo.GetByEmail(ctx, strings.ToLower(identifier))
	}
	ph, err := phone.Normalize(identifier)
	if err != nil {
		return nil, nil
	}
	return s.repo.GetByPhone(ctx, ph)
}

// Get returns the user or a NotFound error.
func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("user not found")
	}
	return u, nil
}

// GetByPhone normalizes the phone and returns the user, nil when missing.
func (s *Service) GetByPhone(ctx context.Context, raw string) (*models.User, error) {
	ph, err := phone.Normalize(raw)
	if err != nil {
		return nil, apperr.FieldError("phone", "invalid phone number")
	}
	return s.repo.GetByPhone(ctx, ph)
}

func (s *Service) MarkPhoneVerified(ctx context.Context, id string) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.MarkPhoneVerified()
	return u, s.repo.Update(ctx, u)
}

func (s *Service) MarkEmailVerified(ctx context.Context, id string) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.MarkEmailVerified()
	return u, s.repo.Update(ctx, u)
}

// ChangePassword verifies the current password before setting a new one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if crypto.ComparePassword(u.PasswordHash, current) != nil {
		return apperr.FieldError("current_password", "is incorrect")
	}
	if current == next {
		return apperr.FieldError("new_password", "must differ from the current password")
	}
	return s.setPassword(ctx, u, next)
}

// SetPassword replaces the password without checking the old one (reset flow).
func (s *Service) SetPassword(ctx context.Context, id, next string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, u, next)
}

func (s *Service) setPassword(ctx context.Context, u *models.User, next string) error {
	if len(next) < MinPasswordLength {
		return apperr.FieldError("new_password", fmt.Sprintf("must be at least %d characters", MinPasswordLength))
	}
	hash, err := crypto.HashPassword(next)
	if err != nil {
		return apperr.Internal("failed to hash password", err)
	}
	u.PasswordHash = hash
	return s.repo.Update(ctx, u)
}

// ProfileUpdate carries optional profile fields; nil means unchanged.
type ProfileUpdate struct {
	FirstName   *string `json:"first_name" binding:"omitempty,min=1,max=100"`
	LastName    *string `json:"last_name" binding:"omitempty,min=1,max=100"`
	Email       *string `json:"email" binding:"omitempty,email"`
	CompanyName *string `json:"company_name" binding:"omitempty,max=200"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
	Address     *string `json:"address" binding:"omitempty,max=500"`
	CityID      *string `json:"city_id"`
	AvatarURL   *string `json:"avatar_url"`
	Website     *string `json:"website" binding:"omitempty,url"`
}

func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&u.FirstName, in.FirstName)
	set(&u.LastName, in.LastName)
	set(&u.Profile.CompanyName, in.CompanyName)
	set(&u.Profile.Description, in.Description)
	set(&u.Profile.Address, in.Address)
	set(&u.Profile.CityID, in.CityID)
	set(&u.Profile.AvatarURL, in.AvatarURL)
	set(&u.Profile.Website, in.Website)
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if email != u.Email {
			if other, err := s.repo.GetByEmail(ctx, email); err != nil {
				return nil, err
			} else if other != nil && other.ID != u.ID {
				return nil, apperr.Conflict("email is already in use")
			}
			u.Email = email
			// a changed address must be verified again
			if u.VerificationStatus == models.VerificationFullyVerified {
				u.VerificationStatus = models.VerificationPhoneVerified
			} else if u.VerificationStatus == models.VerificationEmailVerified {
				u.VerificationStatus = models.VerificationPending
			}
		}
	}
	if err := s.repo.Update(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("%s", err.Error())
		}
		return nil, err
	}
	return u, nil
}

// SettingsUpdate carries optional settings; nil means unchanged.
type SettingsUpdate struct {
	EmailNotifications     *bool   `json:"email_notifications"`
	SMSNotifications       *bool   `json:"sms_notifications"`
	PushNotifications      *bool   `json:"push_notifications"`
	MarketingNotifications *bool   `json:"marketing_notifications"`
	Language               *string `json:"language" binding:"omitempty,oneof=ru kk en"`
	Timezone               *string `json:"timezone"`
	ShowPhone              *bool   `json:"show_phone"`
}

func (s *Service) UpdateSettings(ctx context.Context, id string, in SettingsUpdate) (*models.Settings, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	st := &u.Settings
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setBool(&st.EmailNotifications, in.EmailNotifications)
	setBool(&st.SMSNotifications, in.SMSNotifications)
	setBool(&st.PushNotifications, in.PushNotifications)
	setBool(&st.MarketingNotifications, in.MarketingNotifications)
	setBool(&st.ShowPhone, in.ShowPhone)
	if in.Language != nil {
		switch *in.Language {
		case "ru", "kk", "en":
			st.Language = *in.Language
		default:
			return nil, apperr.FieldError("language", "must be one of: ru kk en")
		}
	}
	if in.Timezone != nil {
		if _, err := time.LoadLocation(*in.Timezone); err != nil {
			return nil, apperr.FieldError("timezone", "unknown time zone")
		}
		st.Timezone = *in.Timezone
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return st, nil
}

// PublicProfile returns the seller card of an active user.
func (s *Service) PublicProfile(ctx context.Context, id string) (*models.PublicCard, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.NotFound("user not found")
	}
	c := u.Card()
	return &c, nil
}

// Search lists users; non-admin callers only see active accounts.
func (s *Service) Search(ctx context.Context, f Filter) ([]*models.User, int64, error) {
	return s.repo.Search(ctx, f)
}

func (s *Service) CountByType(ctx context.Context) (map[string]int64, error) {
	return s.repo.CountByType(ctx)
}

// Block suspends a user for days (0 means indefinitely). Admins cannot be blocked.
func (s *Service) Block(ctx context.Context, id, reason string, days int) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.IsAdmin() {
		return nil, apperr.Business("administrators cannot be blocked")
	}
	u.IsBlocked = true
	u.BlockedReason = reason
	u.BlockedUntil = nil
	if days > 0 {
		until := time.Now().UTC().AddDate(0, 0, days)
		u.BlockedUntil = &until
	}
	return u, s.repo.Update(ctx, u)
}

func (s *Service) Unblock(ctx context.Context, id string) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.IsBlocked, u.BlockedReason, u.BlockedUntil = false, "", nil
	return u, s.repo.Update(ctx, u)
}

// AdminAction applies one of the admin console actions to a user.
func (s *Service) AdminAction(ctx context.Context, id, action, reason string) (*models.User, error) {
	switch action {
	case "block":
		return s.Block(ctx, id, reason, 0)
	case "unblock":
		return s.Unblock(ctx, id)
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch action {
	case "activate":
		u.IsActive = true
	case "deactivate":
		if u.IsAdmin() {
			return nil, apperr.Business("administrators cannot be deactivated")
		}
		u.IsActive = false
	case "make_pro":
		u.UserType = models.UserTypePro
	case "make_dealer":
		u.UserType = models.UserTypeDealer
	case "make_regular":
		u.UserType = models.UserTypeRegular
	default:
		return nil, apperr.FieldError("action", "unsupported action")
	}
	return u, s.repo.Update(ctx, u)
}

// PromoteToAdmin is used by the admin CLI.
func (s *Service) PromoteToAdmin(ctx context.Context, id string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	u.UserType = models.UserTypeAdmin
	u.IsActive = true
	return s.repo.Update(ctx, u)
}

// UpsertIdentity creates or refreshes the account linked to an external
// identity. It returns nil for identities without a subject.
func (s *Service) UpsertIdentity(ctx context.Context, id models.Identity) (*models.User, error) {
	if id.Subject == "" {
		return nil, nil
	}
	given, family := id.GivenName, id.FamilyName
	if given == "" && family == "" {
		parts := strings.SplitN(strings.TrimSpace(id.Name), " ", 2)
		given = parts[0]
		if len(parts) == 2 {
			family = parts[1]
		}
	}
	ph := ""
	if id.PhoneNumber != "" {
		if n, err := phone.Normalize(id.PhoneNumber); err == nil {
			ph = n
		}
	}
	status := models.VerificationPending
	if id.EmailVerified && id.Email != "" {
		status = models.VerificationEmailVerified
	}
	u := &models.User{
		ID:                 uuid.NewString(),
		Sub:                id.Subject,
		Phone:              ph,
		Email:              strings.ToLower(id.Email),
		FirstName:          given,
		LastName:           family,
		UserType:           models.UserTypeRegular,
		VerificationStatus: status,
		Settings:           models.DefaultSettings(),
	}
	out, err := s.repo.UpsertBySub(ctx, u)
	if errors.Is(err, ErrDuplicate) {
		return nil, apperr.Conflict("an account with this email or phone already exists")
	}
	return out, err
}

// RegisterDevice stores or refreshes a push token for the user.
func (s *Service) RegisterDevice(ctx context.Context, userID, token, platform, version string) (*models.Device, error) {
	switch platform {
	case "ios", "android", "web":
	default:
		return nil, apperr.FieldError("platform", "must be one of: ios android web")
	}
	if strings.TrimSpace(token) == "" {
		return nil, apperr.FieldError("device_token", "is required")
	}
	now := time.Now().UTC()
	d := &models.Device{
		ID: uuid.NewString(), UserID: userID, DeviceToken: token, Platform: platform,
		AppVersion: version, IsActive: true, LastUsed: now, CreatedAt: now,
	}
	if err := s.devices.Upsert(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Devices(ctx context.Context, userID string) ([]*models.Device, error) {
	return s.devices.ListByUser(ctx, userID)
}

func (s *Service) RemoveDevice(ctx context.Context, userID, id string) error {
	ok, err := s.devices.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("device not found")
	}
	return nil
}
