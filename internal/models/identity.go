package models

// Identity is what an external identity provider asserts about a user in
// an ID token.
type Identity struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Name          string `json:"name"`
	PhoneNumber   string `json:"phone_number"`
}
