// Package locations serves countries, regions and cities of Kazakhstan.
package locations

type Country struct {
	ID        string `bson:"_id" json:"id"`
	Code      string `bson:"code" json:"code"`
	Name      string `bson:"name" json:"name"`
	PhoneCode string `bson:"phone_code,omitempty" json:"phone_code,omitempty"`
}

type Region struct {
	ID        string `bson:"_id" json:"id"`
	CountryID string `bson:"country_id" json:"country_id"`
	Code      string `bson:"code" json:"code"`
	Name      string `bson:"name" json:"name"`
	SortOrder int    `bson:"sort_order" json:"sort_order"`
}

type City struct {
	ID         string  `bson:"_id" json:"id"`
	RegionID   string  `bson:"region_id" json:"region_id"`
	Name       string  `bson:"name" json:"name"`
	Latitude   float64 `bson:"latitude" json:"latitude"`
	Longitude  float64 `bson:"longitude" json:"longitude"`
	Population int     `bson:"population" json:"population"`
	IsMajor    bool    `bson:"is_major" json:"is_major"`
	SortOrder  int     `bson:"sort_order" json:"sort_order"`
}

// Data is the full location tree as stored.
type Data struct {
	Countries []Country `json:"countries"`
	Regions   []Region  `json:"regions"`
	Cities    []City    `json:"cities"`
}
