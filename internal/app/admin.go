package app

import (
	"context"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
)

// EnsureAdmin registers an administrator with a verified phone, or promotes
// the existing account and resets its password. created reports which.
func (a *App) EnsureAdmin(ctx context.Context, phone, password string) (u *models.User, created bool, err error) {
	u, err = a.Users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if u == nil {
		if u, err = a.Users.Register(ctx, users.RegisterInput{
			Phone: phone, Password: password, FirstName: "Admin",
		}); err != nil {
			return nil, false, err
		}
		created = true
	} else if err := a.Users.SetPassword(ctx, u.ID, password); err != nil {
		return nil, false, err
	}
	if err := a.Users.PromoteToAdmin(ctx, u.ID); err != nil {
		return nil, false, err
	}
	if u, err = a.Users.MarkPhoneVerified(ctx, u.ID); err != nil {
		return nil, false, err
	}
	return u, created, nil
}
