package users

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
)

type ReviewInput struct {
	ListingID string `json:"listing_id"`
	Rating    int    `json:"rating" binding:"required,gte=1,lte=5"`
	Comment   string `json:"comment" binding:"max=2000"`
}

// AddReview records a rating and refreshes the seller's aggregate rating.
func (s *Service) AddReview(ctx context.Context, reviewerID, reviewedID string, in ReviewInput) (*models.Review, error) {
	if reviewerID == reviewedID {
		return nil, apperr.Business("you cannot review yourself")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, apperr.FieldError("rating", "must be between 1 and 5")
	}
	target, err := s.Get(ctx, reviewedID)
	if err != nil {
		return nil, err
	}
	dup, err := s.reviews.Exists(ctx, reviewerID, reviewedID, in.ListingID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, apperr.Conflict("you have already reviewed this user")
	}
	rv := &models.Review{
		ID:             uuid.NewString(),
		ReviewerID:     reviewerID,
		ReviewedUserID: reviewedID,
		ListingID:      in.ListingID,
		Rating:         in.Rating,
		Comment:        strings.TrimSpace(in.Comment),
		IsPublic:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.reviews.Create(ctx, rv); err != nil {
		return nil, err
	}
	ratings, err := s.reviews.PublicRatings(ctx, reviewedID)
	if err != nil {
		return nil, err
	}
	target.Profile.RatingAverage, target.Profile.ReviewsCount = average(ratings), len(ratings)
	if err := s.repo.Update(ctx, target); err != nil {
		return nil, err
	}
	return rv, nil
}

func (s *Service) Reviews(ctx context.Context, userID string, skip, limit int64) ([]*models.Review, int64, error) {
	return s.reviews.ListByUser(ctx, userID, true, skip, limit)
}

func average(ratings []int) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return math.Round(float64(sum)/float64(len(ratings))*100) / 100
}
