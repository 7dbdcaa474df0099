// Package catalog serves the car reference data: brands, models,
// generations and the attribute dictionaries listings refer to.
package catalog

type Brand struct {
	ID        string `bson:"_id" json:"id"`
	Name      string `bson:"name" json:"name"`
	Slug      string `bson:"slug" json:"slug"`
	LogoURL   string `bson:"logo_url,omitempty" json:"logo_url,omitempty"`
	Country   string `bson:"country,omitempty" json:"country,omitempty"`
	IsPopular bool   `bson:"is_popular" json:"is_popular"`
	SortOrder int    `bson:"sort_order" json:"sort_order"`
	IsActive  bool   `bson:"is_active" json:"is_active"`
}

type Model struct {
	ID         string `bson:"_id" json:"id"`
	BrandID    string `bson:"brand_id" json:"brand_id"`
	Name       string `bson:"name" json:"name"`
	Slug       string `bson:"slug" json:"slug"`
	StartYear  int    `bson:"start_year,omitempty" json:"start_year,omitempty"`
	EndYear    int    `bson:"end_year,omitempty" json:"end_year,omitempty"`
	BodyTypeID string `bson:"body_type_id,omitempty" json:"body_type_id,omitempty"`
	IsActive   bool   `bson:"is_active" json:"is_active"`
}

type Generation struct {
	ID        string `bson:"_id" json:"id"`
	ModelID   string `bson:"model_id" json:"model_id"`
	Name      string `bson:"name" json:"name"`
	StartYear int    `bson:"start_year,omitempty" json:"start_year,omitempty"`
	EndYear   int    `bson:"end_year,omitempty" json:"end_year,omitempty"`
}

// Reference is an entry of a simple dictionary (body, engine, transmission
// and drive types).
type Reference struct {
	ID        string `bson:"id" json:"id"`
	Name      string `bson:"name" json:"name"`
	SortOrder int    `bson:"sort_order" json:"sort_order"`
}

type Color struct {
	ID        string `bson:"id" json:"id"`
	Name      string `bson:"name" json:"name"`
	Hex       string `bson:"hex" json:"hex"`
	SortOrder int    `bson:"sort_order" json:"sort_order"`
}

type Feature struct {
	ID       string `bson:"id" json:"id"`
	Name     string `bson:"name" json:"name"`
	Category string `bson:"category" json:"category"`
}

type Attribute struct {
	ID           string `bson:"id" json:"id"`
	Name         string `bson:"name" json:"name"`
	Type         string `bson:"type" json:"type"`
	IsRequired   bool   `bson:"is_required" json:"is_required"`
	IsSearchable bool   `bson:"is_searchable" json:"is_searchable"`
	IsFilterable bool   `bson:"is_filterable" json:"is_filterable"`
	SortOrder    int    `bson:"sort_order" json:"sort_order"`
}

type AttributeGroup struct {
	ID         string      `bson:"id" json:"id"`
	Name       string      `bson:"name" json:"name"`
	SortOrder  int         `bson:"sort_order" json:"sort_order"`
	Attributes []Attribute `bson:"attributes" json:"attributes"`
}

// References bundles every dictionary.
type References struct {
	BodyTypes         []Reference      `bson:"body_types" json:"body_types"`
	EngineTypes       []Reference      `bson:"engine_types" json:"engine_types"`
	TransmissionTypes []Reference      `bson:"transmission_types" json:"transmission_types"`
	DriveTypes        []Reference      `bson:"drive_types" json:"drive_types"`
	Colors            []Color          `bson:"colors" json:"colors"`
	Features          []Feature        `bson:"features" json:"features"`
	AttributeGroups   []AttributeGroup `bson:"attribute_groups" json:"attribute_groups"`
}

// Data is the complete catalog.
type Data struct {
	Brands      []Brand      `json:"brands"`
	Models      []Model      `json:"models"`
	Generations []Generation `json:"generations"`
	References  `bson:",inline"`
}

// Dictionary kinds accepted by Service.HasReference.
const (
	KindBodyType     = "body_type"
	KindEngineType   = "engine_type"
	KindTransmission = "transmission"
	KindDriveType    = "drive_type"
	KindColor        = "color"
	KindFeature      = "feature"
)
