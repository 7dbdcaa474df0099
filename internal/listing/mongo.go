package listing

import (
	"context"
	"regexp"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/pkg/geo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository implements Repository on the listings collection.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "listing_number", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "published_at", Value: -1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "city_id", Value: 1}}},
		{Keys: bson.D{{Key: "details.brand_id", Value: 1}, {Key: "details.model_id", Value: 1}}},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return nil, err
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Create(ctx context.Context, l *Listing) error {
	_, err := r.col.InsertOne(ctx, l)
	return err
}

func (r *MongoRepository) Update(ctx context.Context, l *Listing) error {
	l.UpdatedAt = time.Now().UTC()
	res, err := r.col.ReplaceOne(ctx, bson.M{"_id": l.ID}, l)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Listing, error) {
	var l Listing
	if err := r.col.FindOne(ctx, bson.M{"_id": id, "is_deleted": false}).Decode(&l); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func rangeOf[T any](from, to *T) bson.M {
	m := bson.M{}
	if from != nil {
		m["$gte"] = *from
	}
	if to != nil {
		m["$lte"] = *to
	}
	return m
}

func buildFilter(f Filter) bson.M {
	q := bson.M{"is_deleted": false}
	switch {
	case len(f.Statuses) > 0:
		q["status"] = bson.M{"$in": f.Statuses}
	case !f.AnyStatus:
		q["status"] = StatusActive
		q["$or"] = bson.A{bson.M{"expires_at": nil}, bson.M{"expires_at": bson.M{"$gt": f.Now}}}
	}
	if f.Query != "" {
		rx := bson.M{"$regex": regexp.QuoteMeta(f.Query), "$options": "i"}
		q["$and"] = bson.A{bson.M{"$or": bson.A{bson.M{"title": rx}, bson.M{"description": rx}, bson.M{"search_text": rx}}}}
	}
	if len(f.IDs) > 0 {
		q["_id"] = bson.M{"$in": f.IDs}
	}
	if f.ExcludeID != "" {
		if id, ok := q["_id"].(bson.M); ok {
			id["$ne"] = f.ExcludeID
		} else {
			q["_id"] = bson.M{"$ne": f.ExcludeID}
		}
	}
	set := func(key, v string) {
		if v != "" {
			q[key] = v
		}
	}
	set("listing_type", f.Type)
	set("user_id", f.UserID)
	set("city_id", f.CityID)
	set("region_id", f.RegionID)
	set("details.brand_id", f.BrandID)
	set("details.model_id", f.ModelID)
	set("details.body_type_id", f.BodyTypeID)
	set("details.engine_type_id", f.EngineTypeID)
	set("details.transmission_id", f.Transmission)
	set("details.drive_type_id", f.DriveTypeID)
	set("details.color_id", f.ColorID)
	set("details.condition", f.Condition)
	if f.Latitude != nil && f.Longitude != nil {
		q["location"] = bson.M{"$geoWithin": bson.M{
			"$centerSphere": bson.A{bson.A{*f.Longitude, *f.Latitude}, f.RadiusKm / geo.EarthRadiusKm},
		}}
	}
	if m := rangeOf(f.PriceFrom, f.PriceTo); len(m) > 0 {
		q["price"] = m
	}
	if f.Featured {
		q["is_featured"] = true
	}
	if f.Urgent {
		q["is_urgent"] = true
	}
	var yFrom, yTo *int
	if f.YearFrom > 0 {
		yFrom = &f.YearFrom
	}
	if f.YearTo > 0 {
		yTo = &f.YearTo
	}
	if m := rangeOf(yFrom, yTo); len(m) > 0 {
		q["details.year"] = m
	}
	if m := rangeOf(f.MileageFrom, f.MileageTo); len(m) > 0 {
		q["details.mileage"] = m
	}
	return q
}

func sortSpec(order string, boostFeatured bool) bson.D {
	var d bson.D
	if boostFeatured {
		d = append(d, bson.E{Key: "is_featured", Value: -1})
	}
	switch order {
	case SortDateAsc:
		d = append(d, bson.E{Key: "published_at", Value: 1})
	case SortPriceAsc:
		d = append(d, bson.E{Key: "price", Value: 1})
	case SortPriceDesc:
		d = append(d, bson.E{Key: "price", Value: -1})
	case SortMileageAsc:
		d = append(d, bson.E{Key: "details.mileage", Value: 1})
	case SortMileageDesc:
		d = append(d, bson.E{Key: "details.mileage", Value: -1})
	case SortYearAsc:
		d = append(d, bson.E{Key: "details.year", Value: 1})
	case SortYearDesc:
		d = append(d, bson.E{Key: "details.year", Value: -1})
	case SortRelevance:
		d = append(d, bson.E{Key: "is_featured", Value: -1}, bson.E{Key: "is_urgent", Value: -1})
	}
	return append(d, bson.E{Key: "published_at", Value: -1}, bson.E{Key: "created_at", Value: -1})
}

func (r *MongoRepository) Search(ctx context.Context, f Filter) ([]*Listing, int64, error) {
	q := buildFilter(f)
	total, err := r.col.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().SetSort(sortSpec(f.Sort, f.BoostFeatured)).SetSkip(f.Skip)
	if f.Limit > 0 {
		opts.SetLimit(f.Limit)
	}
	cur, err := r.col.Find(ctx, q, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	out := []*Listing{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *MongoRepository) CountByUser(ctx context.Context, userID string, statuses []string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"user_id": userID, "is_deleted": false, "status": bson.M{"$in": statuses}})
}

func (r *MongoRepository) CountByStatus(ctx context.Context, userID string) (map[string]int64, error) {
	match := bson.M{"is_deleted": false}
	if userID != "" {
		match["user_id"] = userID
	}
	cur, err := r.col.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$status"}, {Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
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

func (r *MongoRepository) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id, "is_deleted": false}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) IncrementViews(ctx context.Context, id string) error {
	return r.updateOne(ctx, id, bson.M{"$inc": bson.M{"view_count": 1}})
}

func (r *MongoRepository) IncrementFavorites(ctx context.Context, id string, delta int64) (int64, error) {
	var l Listing
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"favorite_count": delta}}, opts).Decode(&l)
	if err == mongo.ErrNoDocuments {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if l.FavoriteCount < 0 {
		_, _ = r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"favorite_count": 0}})
		return 0, nil
	}
	return l.FavoriteCount, nil
}

func (r *MongoRepository) SetFlags(ctx context.Context, id string, flags map[string]bool) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range flags {
		set[k] = v
	}
	return r.updateOne(ctx, id, bson.M{"$set": set})
}

func (r *MongoRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.col.UpdateMany(ctx,
		bson.M{"status": StatusActive, "is_deleted": false, "expires_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": StatusExpired, "updated_at": now}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoRepository) SetScore(ctx context.Context, id string, score int) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{"score": score}})
}

// MongoFavoriteRepository implements FavoriteRepository.
type MongoFavoriteRepository struct {
	col *mongo.Collection
}

func NewMongoFavoriteRepository(col *mongo.Collection) (*MongoFavoriteRepository, error) {
	_, err := col.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "listing_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}
	return &MongoFavoriteRepository{col: col}, nil
}

func (r *MongoFavoriteRepository) Add(ctx context.Context, f *Favorite) error {
	_, err := r.col.InsertOne(ctx, f)
	return err
}

func (r *MongoFavoriteRepository) Remove(ctx context.Context, userID, listingID string) (bool, error) {
	res, err := r.col.DeleteOne(ctx, bson.M{"user_id": userID, "listing_id": listingID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (r *MongoFavoriteRepository) Exists(ctx context.Context, userID, listingID string) (bool, error) {
	n, err := r.col.CountDocuments(ctx, bson.M{"user_id": userID, "listing_id": listingID})
	return n > 0, err
}

func (r *MongoFavoriteRepository) ListByUser(ctx context.Context, userID, folder string) ([]*Favorite, error) {
	q := bson.M{"user_id": userID}
	if folder != "" {
		q["folder_name"] = folder
	}
	cur, err := r.col.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "added_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Favorite{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoFavoriteRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	return r.col.CountDocuments(ctx, bson.M{"user_id": userID})
}
