package sessions

import "time"

// Session is a refresh session issued at login. The refresh token is opaque;
// access tokens are short-lived JWTs minted from it.
type Session struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	RefreshToken string    `bson:"refresh_token" json:"refresh_token"`
	UserID       string    `bson:"user_id" json:"user_id"`
	UserAgent    string    `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	IP           string    `bson:"ip,omitempty" json:"ip,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

func (s *Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }
