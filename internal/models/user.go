package models

import (
	"strings"
	"time"
)

// User types.
const (
	UserTypeRegular = "regular"
	UserTypePro     = "pro"
	UserTypeDealer  = "dealer"
	UserTypeAdmin   = "admin"
)

// Verification states.
const (
	VerificationPending       = "pending"
	VerificationPhoneVerified = "phone_verified"
	VerificationEmailVerified = "email_verified"
	VerificationFullyVerified = "fully_verified"
)

// User represents a marketplace account.
type User struct {
	ID                 string     `bson:"_id" json:"id"`
	Sub                string     `bson:"sub,omitempty" json:"-"` // external OIDC subject
	Phone              string     `bson:"phone" json:"phone,omitempty"`
	Email              string     `bson:"email,omitempty" json:"email,omitempty"`
	PasswordHash       string     `bson:"password_hash,omitempty" json:"-"`
	FirstName          string     `bson:"first_name" json:"first_name"`
	LastName           string     `bson:"last_name" json:"last_name"`
	UserType           string     `bson:"user_type" json:"user_type"`
	VerificationStatus string     `bson:"verification_status" json:"verification_status"`
	IsActive           bool       `bson:"is_active" json:"is_active"`
	IsBlocked          bool       `bson:"is_blocked" json:"is_blocked"`
	BlockedReason      string     `bson:"blocked_reason,omitempty" json:"blocked_reason,omitempty"`
	BlockedUntil       *time.Time `bson:"blocked_until,omitempty" json:"blocked_until,omitempty"`
	LastLogin          *time.Time `bson:"last_login,omitempty" json:"last_login,omitempty"`
	Profile            Profile    `bson:"profile" json:"profile"`
	Settings           Settings   `bson:"settings" json:"settings"`
	CreatedAt          time.Time  `bson:"registration_date" json:"registration_date"`
	UpdatedAt          time.Time  `bson:"updated_at" json:"updated_at"`
}

type Profile struct {
	CompanyName   string  `bson:"company_name,omitempty" json:"company_name,omitempty"`
	Description   string  `bson:"description,omitempty" json:"description,omitempty"`
	Address       string  `bson:"address,omitempty" json:"address,omitempty"`
	CityID        string  `bson:"city_id,omitempty" json:"city_id,omitempty"`
	AvatarURL     string  `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Website       string  `bson:"website,omitempty" json:"website,omitempty"`
	RatingAverage float64 `bson:"rating_average" json:"rating_average"`
	ReviewsCount  int     `bson:"reviews_count" json:"reviews_count"`
}

type Settings struct {
	EmailNotifications     bool   `bson:"email_notifications" json:"email_notifications"`
	SMSNotifications       bool   `bson:"sms_notifications" json:"sms_notifications"`
	PushNotifications      bool   `bson:"push_notifications" json:"push_notifications"`
	MarketingNotifications bool   `bson:"marketing_notifications" json:"marketing_notifications"`
	Language               string `bson:"language" json:"language"`
	Timezone               string `bson:"timezone" json:"timezone"`
	ShowPhone              bool   `bson:"show_phone" json:"show_phone"`
}

// DefaultSettings are applied on registration.
func DefaultSettings() Settings {
	return Settings{
		EmailNotifications: true,
		SMSNotifications:   true,
		PushNotifications:  true,
		Language:           "ru",
		Timezone:           "Asia/Almaty",
		ShowPhone:          true,
	}
}

// FullName joins first and last name, falling back to the phone.
func (u *User) FullName() string {
	n := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if n == "" {
		return u.Phone
	}
	return n
}

func (u *User) IsVerified() bool {
	return u.VerificationStatus != "" && u.VerificationStatus != VerificationPending
}

func (u *User) IsAdmin() bool { return u.UserType == UserTypeAdmin }

// BlockedAt reports whether a block is in force at now. Blocks without an
// end date never lapse.
func (u *User) BlockedAt(now time.Time) bool {
	return u.IsBlocked && (u.BlockedUntil == nil || now.Before(*u.BlockedUntil))
}

// MarkPhoneVerified advances the verification state after a phone check.
func (u *User) MarkPhoneVerified() {
	switch u.VerificationStatus {
	case VerificationEmailVerified, VerificationFullyVerified:
		u.VerificationStatus = VerificationFullyVerified
	default:
		u.VerificationStatus = VerificationPhoneVerified
	}
}

// MarkEmailVerified advances the verification state after an email check.
func (u *User) MarkEmailVerified() {
	switch u.VerificationStatus {
	case VerificationPhoneVerified, VerificationFullyVerified:
		u.VerificationStatus = VerificationFullyVerified
	default:
		u.VerificationStatus = VerificationEmailVerified
	}
}

// PublicCard is what other users see about a seller.
type PublicCard struct {
	ID               string    `json:"id"`
	FullName         string    `json:"full_name"`
	UserType         string    `json:"user_type"`
	Phone            string    `json:"phone,omitempty"`
	IsVerified       bool      `json:"is_verified"`
	CompanyName      string    `json:"company_name,omitempty"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	CityID           string    `json:"city_id,omitempty"`
	RatingAverage    float64   `json:"rating_average"`
	ReviewsCount     int       `json:"reviews_count"`
	RegistrationDate time.Time `json:"registration_date"`
}

func (u *User) Card() PublicCard {
	c := PublicCard{
		ID:               u.ID,
		FullName:         u.FullName(),
		UserType:         u.UserType,
		IsVerified:       u.IsVerified(),
		CompanyName:      u.Profile.CompanyName,
		AvatarURL:        u.Profile.AvatarURL,
		CityID:           u.Profile.CityID,
		RatingAverage:    u.Profile.RatingAverage,
		ReviewsCount:     u.Profile.ReviewsCount,
		RegistrationDate: u.CreatedAt,
	}
	if u.Settings.ShowPhone {
		c.Phone = u.Phone
	}
	return c
}

// Device is a registered push target.
type Device struct {
	ID          string    `bson:"_id" json:"id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	DeviceToken string    `bson:"device_token" json:"device_token"`
	Platform    string    `bson:"platform" json:"platform"`
	AppVersion  string    `bson:"app_version,omitempty" json:"app_version,omitempty"`
	IsActive    bool      `bson:"is_active" json:"is_active"`
	LastUsed    time.Time `bson:"last_used" json:"last_used"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// Review is a rating one user leaves for another.
type Review struct {
	ID             string    `bson:"_id" json:"id"`
	ReviewerID     string    `bson:"reviewer_id" json:"reviewer_id"`
	ReviewedUserID string    `bson:"reviewed_user_id" json:"reviewed_user_id"`
	ListingID      string    `bson:"listing_id,omitempty" json:"listing_id,omitempty"`
	Rating         int       `bson:"rating" json:"rating"`
	Comment        string    `bson:"comment,omitempty" json:"comment,omitempty"`
	IsPublic       bool      `bson:"is_public" json:"is_public"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}
