package users

import (
	"context"
	"testing"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, svc *Service, ph, email string) *models.User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{
		Phone: ph, Email: email, Password: "secret123", FirstName: "Aidar", LastName: "Nurlanov",
	})
	require.NoError(t, err)
	return u
}

func TestUpsertIdentity(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, NewMemoryDeviceRepository(), NewMemoryReviewRepository())
	ctx := context.Background()
	id := models.Identity{Subject: "sub-123", Email: "X@example.com", Name: "X User", PhoneNumber: "8 701 555 0101"}

	u, err := svc.UpsertIdentity(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if u.Sub != "sub-123" {
		t.Fatalf("unexpected sub: %s", u.Sub)
	}
	if u.Email != "x@example.com" {
		t.Fatalf("unexpected email: %s", u.Email)
	}
	if u.FirstName != "X" || u.LastName != "User" {
		t.Fatalf("unexpected name: %s %s", u.FirstName, u.LastName)
	}
	if u.CreatedAt.IsZero() || u.CreatedAt.After(u.UpdatedAt) {
		t.Fatalf("unexpected timestamps: created=%v updated=%v", u.CreatedAt, u.UpdatedAt)
	}

	// second login updates the same record
	require.Equal(t, "+77015550101", u.Phone)
	require.Equal(t, models.VerificationPending, u.VerificationStatus)

	again, err := svc.UpsertIdentity(ctx, models.Identity{Subject: "sub-123", GivenName: "Y", FamilyName: "Z"})
	require.NoError(t, err)
	require.Equal(t, u.ID, again.ID)
	require.Equal(t, "Y", again.FirstName)

	u2, err := svc.UpsertIdentity(ctx, models.Identity{Email: "y@e.com"})
	if err != nil {
		t.Fatalf("unexpected error on missing sub: %v", err)
	}
	if u2 != nil {
		t.Fatalf("expected nil when sub missing, got: %v", u2)
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	u := register(t, svc, "8 701 234 5678", "Aidar@Example.com")
	require.Equal(t, "+77012345678", u.Phone)
	require.Equal(t, "aidar@example.com", u.Email)
	require.Equal(t, models.UserTypeRegular, u.UserType)
	require.Equal(t, models.VerificationPending, u.VerificationStatus)
	require.NotEqual(t, "secret123", u.PasswordHash)

	_, err := svc.Register(ctx, RegisterInput{Phone: "+77012345678", Password: "secret123"})
	require.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = svc.Register(ctx, RegisterInput{Phone: "+77012345679", Password: "short"})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Register(ctx, RegisterInput{Phone: "+77012345679", Password: "secret123", UserType: "admin"})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	got, err := svc.Authenticate(ctx, "+7 701 234 56 78", "secret123")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.NotNil(t, got.LastLogin)

	got, err = svc.Authenticate(ctx, "AIDAR@example.com", "secret123")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "+77012345678", "wrong-password")
	require.True(t, apperr.Is(err, apperr.KindAuthentication))

	_, err = svc.Authenticate(ctx, "nobody@example.com", "secret123")
	require.True(t, apperr.Is(err, apperr.KindAuthentication))
}

func TestBlockedUserCannotLogin(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()
	u := register(t, svc, "+77012345678", "")

	_, err := svc.Block(ctx, u.ID, "spam", 0)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "+77012345678", "secret123")
	require.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = svc.Unblock(ctx, u.ID)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "+77012345678", "secret123")
	require.NoError(t, err)
}

func TestVerificationTransitions(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()
	u := register(t, svc, "+77012345678", "a@example.com")

	u, err := svc.MarkEmailVerified(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationEmailVerified, u.VerificationStatus)

	u, err = svc.MarkPhoneVerified(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationFullyVerified, u.VerificationStatus)

	email := "b@example.com"
	u, err = svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Email: &email})
	require.NoError(t, err)
	require.Equal(t, models.VerificationPhoneVerified, u.VerificationStatus)
}

func TestChangePassword(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()
	u := register(t, svc, "+77012345678", "")

	err := svc.ChangePassword(ctx, u.ID, "nope", "newsecret1")
	require.True(t, apperr.Is(err, apperr.KindValidation))

	require.NoError(t, svc.ChangePassword(ctx, u.ID, "secret123", "newsecret1"))
	_, err = svc.Authenticate(ctx, "+77012345678", "newsecret1")
	require.NoError(t, err)
}

func TestUpdateSettings(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()
	u := register(t, svc, "+77012345678", "")

	lang, show := "kk", false
	st, err := svc.UpdateSettings(ctx, u.ID, SettingsUpdate{Language: &lang, ShowPhone: &show})
	require.NoError(t, err)
	require.Equal(t, "kk", st.Language)
	require.True(t, st.EmailNotifications)

	card, err := svc.PublicProfile(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, card.Phone)

	bad := "de"
	_, err = svc.UpdateSettings(ctx, u.ID, SettingsUpdate{Language: &bad})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdminAction(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()
	u := register(t, svc, "+77012345678", "")

	u, err := svc.AdminAction(ctx, u.ID, "make_dealer", "")
	require.NoError(t, err)
	require.Equal(t, models.UserTypeDealer, u.UserType)

	_, err = svc.AdminAction(ctx, u.ID, "explode", "")
	require.True(t, apperr.Is(err, apperr.KindValidation))

	require.NoError(t, svc.PromoteToAdmin(ctx, u.ID))
	_, err = svc.Block(ctx, u.ID, "x", 1)
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))

	counts, err := svc.CountByType(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[models.UserTypeAdmin])
}

func TestReviewsUpdateRating(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()
	seller := register(t, svc, "+77012345678", "")
	buyer := register(t, svc, "+77012345679", "")
	other := register(t, svc, "+77012345670", "")

	_, err := svc.AddReview(ctx, seller.ID, seller.ID, ReviewInput{Rating: 5})
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))

	_, err = svc.AddReview(ctx, buyer.ID, seller.ID, ReviewInput{ListingID: "l1", Rating: 5})
	require.NoError(t, err)
	_, err = svc.AddReview(ctx, buyer.ID, seller.ID, ReviewInput{ListingID: "l1", Rating: 4})
	require.True(t, apperr.Is(err, apperr.KindConflict))
	_, err = svc.AddReview(ctx, other.ID, seller.ID, ReviewInput{ListingID: "l1", Rating: 4})
	require.NoError(t, err)

	card, err := svc.PublicProfile(ctx, seller.ID)
	require.NoError(t, err)
	require.Equal(t, 2, card.ReviewsCount)
	require.InDelta(t, 4.5, card.RatingAverage, 0.001)

	items, total, err := svc.Reviews(ctx, seller.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, items, 2)
}

func TestDevices(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	d, err := svc.RegisterDevice(ctx, "u1", "tok-1", "android", "1.0")
	require.NoError(t, err)
	_, err = svc.RegisterDevice(ctx, "u1", "tok-1", "android", "1.1")
	require.NoError(t, err)
	_, err = svc.RegisterDevice(ctx, "u1", "tok-2", "symbian", "1")
	require.True(t, apperr.Is(err, apperr.KindValidation))

	list, err := svc.Devices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "1.1", list[0].AppVersion)

	require.NoError(t, svc.RemoveDevice(ctx, "u1", d.ID))
	err = svc.RemoveDevice(ctx, "u1", d.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}
