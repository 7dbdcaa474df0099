// Package media stores uploaded files for listings, profiles, support
// tickets and messages.
package media

import (
	"path"
	"strings"
	"time"
)

const (
	EntityListing       = "listing"
	EntityUser          = "user"
	EntitySupportTicket = "support_ticket"
	EntityMessage       = "message"

	TypeImage    = "image"
	TypeVideo    = "video"
	TypeDocument = "document"

	ThumbnailWidth = 320
	// MaxImagePixels bounds width*height before an image is decoded.
	MaxImagePixels = 40_000_000
	PresignTTL     = 15 * time.Minute
)

// EntityLimits caps the number of files per entity.
var EntityLimits = map[string]int{
	EntityListing:       20,
	EntityUser:          1,
	EntitySupportTicket: 5,
	EntityMessage:       5,
}

var extTypes = map[string]string{
	"jpg": TypeImage, "jpeg": TypeImage, "png": TypeImage, "gif": TypeImage, "webp": TypeImage,
	"mp4": TypeVideo, "avi": TypeVideo, "mov": TypeVideo, "wmv": TypeVideo, "flv": TypeVideo,
	"pdf": TypeDocument, "doc": TypeDocument, "docx": TypeDocument, "txt": TypeDocument, "rtf": TypeDocument,
}

// extension returns the lower-case extension without the dot.
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

type Media struct {
	ID              string    `bson:"_id" json:"id"`
	EntityType      string    `bson:"entity_type" json:"entity_type"`
	EntityID        string    `bson:"entity_id" json:"entity_id"`
	UserID          string    `bson:"user_id" json:"user_id"`
	MediaType       string    `bson:"media_type" json:"media_type"`
	FileName        string    `bson:"file_name" json:"file_name"`
	ObjectKey       string    `bson:"object_key" json:"-"`
	ThumbnailKey    string    `bson:"thumbnail_key,omitempty" json:"-"`
	HasThumbnail    bool      `bson:"-" json:"has_thumbnail"`
	MimeType        string    `bson:"mime_type" json:"mime_type"`
	Size            int64     `bson:"file_size" json:"file_size"`
	Width           int       `bson:"width,omitempty" json:"width,omitempty"`
	Height          int       `bson:"height,omitempty" json:"height,omitempty"`
	AltText         string    `bson:"alt_text,omitempty" json:"alt_text,omitempty"`
	SortOrder       int       `bson:"sort_order" json:"sort_order"`
	IsPrimary       bool      `bson:"is_primary" json:"is_primary"`
	StorageProvider string    `bson:"storage_provider" json:"storage_provider"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
}

// TypeStats aggregates a user's files of one media type.
type TypeStats struct {
	Count int64 `bson:"count" json:"count"`
	Bytes int64 `bson:"bytes" json:"bytes"`
}

type Stats struct {
	Total  TypeStats            `json:"total"`
	ByType map[string]TypeStats `json:"by_type"`
}

type Limits struct {
	MaxFileSize       int64             `json:"max_file_size"`
	AllowedExtensions []string          `json:"allowed_extensions"`
	MaxFilesPerEntity map[string]int    `json:"max_files_per_entity"`
	MediaTypes        map[string]string `json:"media_types"`
}
