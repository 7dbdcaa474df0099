package users

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrDuplicate = errors.New("user with this phone or email already exists")

// Filter narrows user searches.
type Filter struct {
	Query    string
	UserType string
	CityID   string
	Active   *bool
	Skip     int64
	Limit    int64
}

// UserRepository defines persistence operations for users. Lookups return
// (nil, nil) when the user does not exist.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetBySub(ctx context.Context, sub string) (*models.User, error)
	UpsertBySub(ctx context.Context, u *models.User) (*models.User, error)
	Search(ctx context.Context, f Filter) ([]*models.User, int64, error)
	CountByType(ctx context.Context) (map[string]int64, error)
}

// DeviceRepository stores push device registrations.
type DeviceRepository interface {
	Upsert(ctx context.Context, d *models.Device) error
	ListByUser(ctx context.Context, userID string) ([]*models.Device, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
}

// ReviewRepository stores user reviews.
type ReviewRepository interface {
	Create(ctx context.Context, r *models.Review) error
	Exists(ctx context.Context, reviewerID, reviewedID, listingID string) (bool, error)
	ListByUser(ctx context.Context, userID string, publicOnly bool, skip, limit int64) ([]*models.Review, int64, error)
	PublicRatings(ctx context.Context, userID string) ([]int, error)
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
// and ensures its unique indexes.
func NewMongoUserRepository(col *mongo.Collection) (*MongoUserRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"phone": bson.M{"$gt": ""}})},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		{Keys: bson.D{{Key: "sub", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "user_type", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoUserRepository{col: col}, nil
}

func (r *MongoUserRepository) Create(ctx context.Context, u *models.User) error {
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MongoUserRepository) Update(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"phone": phone})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"sub": sub})
}

func (r *MongoUserRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	filter := bson.M{"sub": u.Sub}
	update := bson.M{
		"$set": bson.M{
			"first_name": u.FirstName,
			"last_name":  u.LastName,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":                 u.ID,
			"phone":               u.Phone,
			"email":               u.Email,
			"user_type":           u.UserType,
			"verification_status": u.VerificationStatus,
			"is_active":           true,
			"is_blocked":          false,
			"profile":             u.Profile,
			"settings":            u.Settings,
			"registration_date":   now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var updated models.User
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			return u, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &updated, nil
}

func (r *MongoUserRepository) Search(ctx context.Context, f Filter) ([]*models.User, int64, error) {
	filter := bson.M{}
	if f.Query != "" {
		rx := bson.M{"$regex": regexp.QuoteMeta(f.Query), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"first_name": rx}, bson.M{"last_name": rx}, bson.M{"phone": rx},
			bson.M{"email": rx}, bson.M{"profile.company_name": rx},
		}
	}
	if f.UserType != "" {
		filter["user_type"] = f.UserType
	}
	if f.CityID != "" {
		filter["profile.city_id"] = f.CityID
	}
	if f.Active != nil {
		filter["is_active"] = *f.Active
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "registration_date", Value: -1}}).SetSkip(f.Skip)
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*models.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoUserRepository) CountByType(ctx context.Context) (map[string]int64, error) {
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$user_type"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := map[string]int64{}
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
			N  int64  `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out[row.ID] = row.N
	}
	return out, cur.Err()
}

// MongoDeviceRepository implements DeviceRepository.
type MongoDeviceRepository struct {
	col *mongo.Collection
}

func NewMongoDeviceRepository(col *mongo.Collection) (*MongoDeviceRepository, error) {
	_, err := col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "device_token", Value: 1}}, Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &MongoDeviceRepository{col: col}, nil
}

func (r *MongoDeviceRepository) Upsert(ctx context.Context, d *models.Device) error {
	update := bson.M{
		"$set": bson.M{
			"user_id": d.UserID, "platform": d.Platform, "app_version": d.AppVersion,
			"is_active": true, "last_used": d.LastUsed,
		},
		"$setOnInsert": bson.M{"_id": d.ID, "created_at": d.CreatedAt},
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"device_token": d.DeviceToken}, update, options.Update().SetUpsert(true))
	return err
}

func (r *MongoDeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.Device, error) {
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID, "is_active": true}, options.Find().SetSort(bson.D{{Key: "last_used", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*models.Device{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoDeviceRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// MongoReviewRepository implements ReviewRepository.
type MongoReviewRepository struct {
	col *mongo.Collection
}

func NewMongoReviewRepository(col *mongo.Collection) (*MongoReviewRepository, error) {
	_, err := col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "reviewed_user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoReviewRepository{col: col}, nil
}

func (r *MongoReviewRepository) Create(ctx context.Context, rv *models.Review) error {
	_, err := r.col.InsertOne(ctx, rv)
	return err
}

func (r *MongoReviewRepository) Exists(ctx context.Context, reviewerID, reviewedID, listingID string) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"reviewer_id": reviewerID, "reviewed_user_id": reviewedID, "listing_id": listingID})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *MongoReviewRepository) ListByUser(ctx context.Context, userID string, publicOnly bool, skip, limit int64) ([]*models.Review, int64, error) {
	filter := bson.M{"reviewed_user_id": userID}
	if publicOnly {
		filter["is_public"] = true
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetSkip(skip).SetLimit(limit))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*models.Review{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoReviewRepository) PublicRatings(ctx context.Context, userID string) ([]int, error) {
	cur, err := r.col.Find(ctx, bson.M{"reviewed_user_id": userID, "is_public": true}, options.Find().SetProjection(bson.M{"rating": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []int
	for cur.Next(ctx) {
		var row struct {
			Rating int `bson:"rating"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		out = append(out, row.Rating)
	}
	return out, cur.Err()
}
