package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/kolesa/kolesa/backend/go-services/internal/storage"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

// OwnershipChecker reports whether userID may attach files to an entity.
// It returns a NotFound error when the entity does not exist.
type OwnershipChecker func(ctx context.Context, entityID, userID string) (bool, error)

type Service struct {
	repo     Repository
	store    storage.ObjectStore
	owners   map[string]OwnershipChecker
	maxBytes int64
	allowed  map[string]bool
	now      func() time.Time
}

func NewService(repo Repository, store storage.ObjectStore, cfg config.UploadConfig) *Service {
	s := &Service{
		repo: repo, store: store, owners: map[string]OwnershipChecker{},
		maxBytes: cfg.MaxBytes, allowed: map[string]bool{},
		now: func() time.Time { return time.Now().UTC() },
	}
	if s.maxBytes <= 0 {
		s.maxBytes = 16 << 20
	}
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if _, known := extTypes[ext]; known {
			s.allowed[ext] = true
		}
	}
	return s
}

// RegisterOwner sets the ownership check for an entity type.
func (s *Service) RegisterOwner(entityType string, fn OwnershipChecker) {
	s.owners[entityType] = fn
}

type UploadInput struct {
	EntityType  string
	EntityID    string
	FileName    string
	ContentType string
	Body        io.Reader
	SortOrder   *int
	IsPrimary   bool
	AltText     string
}

func (s *Service) checkOwner(ctx context.Context, entityType, entityID, userID string, isAdmin bool) error {
	if _, ok := EntityLimits[entityType]; !ok {
		return apperr.FieldError("entity_type", "must be one of: listing user support_ticket message")
	}
	if entityID == "" {
		return apperr.FieldError("entity_id", "entity id is required")
	}
	check, ok := s.owners[entityType]
	if !ok {
		return apperr.Validation("uploads for %s are not enabled", entityType)
	}
	owns, err := check(ctx, entityID, userID)
	if err != nil {
		return err
	}
	if !owns && !isAdmin {
		return apperr.Forbidden("you cannot manage files of this %s", entityType)
	}
	return nil
}

// Upload validates and stores one file. The first file of an entity becomes
// its primary.
func (s *Service) Upload(ctx context.Context, userID string, isAdmin bool, in UploadInput) (*Media, error) {
	name := strings.TrimSpace(in.FileName)
	if name == "" {
		return nil, apperr.FieldError("file", "no file selected")
	}
	ext := extension(name)
	mediaType, known := extTypes[ext]
	if !known || !s.allowed[ext] {
		return nil, apperr.FieldError("file", fmt.Sprintf("extension %q is not allowed", ext))
	}
	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return nil, apperr.Internal("read upload", err)
	}
	if len(data) == 0 {
		return nil, apperr.FieldError("file", "file is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperr.FieldError("file", fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}
	if err := s.checkOwner(ctx, in.EntityType, in.EntityID, userID, isAdmin); err != nil {
		return nil, err
	}
	existing, err := s.repo.ListByEntity(ctx, in.EntityType, in.EntityID)
	if err != nil {
		return nil, apperr.Internal("list media", err)
	}
	if limit := EntityLimits[in.EntityType]; len(existing) >= limit {
		return nil, apperr.Business("a %s can have at most %d files", in.EntityType, limit)
	}

	mime := in.ContentType
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	m := &Media{
		ID: uuid.NewString(), EntityType: in.EntityType, EntityID: in.EntityID, UserID: userID,
		MediaType: mediaType, FileName: name, MimeType: mime, Size: int64(len(data)),
		AltText: strings.TrimSpace(in.AltText), SortOrder: len(existing),
		StorageProvider: s.store.Provider(), CreatedAt: s.now(),
	}
	if in.SortOrder != nil {
		m.SortOrder = *in.SortOrder
	}
	m.ObjectKey = fmt.Sprintf("media/%s/%s/%s.%s", in.EntityType, in.EntityID, m.ID, ext)

	var thumb []byte
	if mediaType == TypeImage {
		w, h, ok := imageSize(data)
		if !ok {
			return nil, apperr.FieldError("file", "file is not a valid image")
		}
		if tooLarge(w, h) {
			return nil, apperr.FieldError("file", fmt.Sprintf("image is larger than %d megapixels", MaxImagePixels/1_000_000))
		}
		m.Width, m.Height = w, h
		if thumb, err = thumbnail(data, ThumbnailWidth); err != nil {
			logger.Warnf("thumbnail for %s: %v", m.ObjectKey, err)
			thumb = nil
		}
	}

	if err := s.store.Put(ctx, m.ObjectKey, bytes.NewReader(data), int64(len(data)), mime); err != nil {
		return nil, apperr.Unavailable("file storage unavailable")
	}
	if thumb != nil {
		key := thumbKey(m)
		if err := s.store.Put(ctx, key, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
			logger.Warnf("store thumbnail %s: %v", key, err)
		} else {
			m.ThumbnailKey = key
		}
	}

	m.IsPrimary = len(existing) == 0 || in.IsPrimary
	if m.IsPrimary {
		if err := s.clearPrimary(ctx, existing, ""); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Create(ctx, m); err != nil {
		s.removeObjects(ctx, m)
		return nil, apperr.Internal("save media", err)
	}
	return present(m), nil
}

func thumbKey(m *Media) string {
	return fmt.Sprintf("media/%s/%s/%s_thumb.jpg", m.EntityType, m.EntityID, m.ID)
}

func present(m *Media) *Media {
	m.HasThumbnail = m.ThumbnailKey != ""
	return m
}

func (s *Service) clearPrimary(ctx context.Context, items []*Media, keepID string) error {
	for _, other := range items {
		if other.ID == keepID || !other.IsPrimary {
			continue
		}
		other.IsPrimary = false
		if err := s.repo.Update(ctx, other); err != nil {
			return apperr.Internal("update media", err)
		}
	}
	return nil
}

func (s *Service) removeObjects(ctx context.Context, m *Media) {
	for _, key := range []string{m.ObjectKey, m.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			logger.Warnf("delete object %s: %v", key, err)
		}
	}
}

// UploadFailure describes a file skipped by MultipleUpload.
type UploadFailure struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// MultipleUpload stores each file in turn and keeps going past failures.
func (s *Service) MultipleUpload(ctx context.Context, userID string, isAdmin bool, files []UploadInput) ([]*Media, []UploadFailure) {
	uploaded := []*Media{}
	failed := []UploadFailure{}
	for _, in := range files {
		m, err := s.Upload(ctx, userID, isAdmin, in)
		if err != nil {
			failed = append(failed, UploadFailure{FileName: in.FileName, Error: err.Error()})
			continue
		}
		uploaded = append(uploaded, m)
	}
	return uploaded, failed
}

// EntityMedia lists an entity's files, optionally only one media type.
func (s *Service) EntityMedia(ctx context.Context, entityType, entityID, mediaType string) ([]*Media, error) {
	items, err := s.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, apperr.Internal("list media", err)
	}
	out := make([]*Media, 0, len(items))
	for _, m := range items {
		if mediaType == "" || m.MediaType == mediaType {
			out = append(out, present(m))
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Media, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load media", err)
	}
	if m == nil {
		return nil, apperr.NotFound("media %s not found", id)
	}
	return present(m), nil
}

func (s *Service) owned(ctx context.Context, id, userID string, isAdmin bool) (*Media, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID && !isAdmin {
		return nil, apperr.Forbidden("you do not own this file")
	}
	return m, nil
}

type UpdateInput struct {
	IsPrimary *bool   `json:"is_primary"`
	SortOrder *int    `json:"sort_order" binding:"omitempty,min=0"`
	AltText   *string `json:"alt_text" binding:"omitempty,max=255"`
}

// Update changes display attributes. Making a file primary demotes the
// entity's previous primary.
func (s *Service) Update(ctx context.Context, id, userID string, isAdmin bool, in UpdateInput) (*Media, error) {
	m, err := s.owned(ctx, id, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	if in.SortOrder != nil {
		m.SortOrder = *in.SortOrder
	}
	if in.AltText != nil {
		m.AltText = strings.TrimSpace(*in.AltText)
	}
	if in.IsPrimary != nil {
		if *in.IsPrimary && !m.IsPrimary {
			siblings, err := s.repo.ListByEntity(ctx, m.EntityType, m.EntityID)
			if err != nil {
				return nil, apperr.Internal("list media", err)
			}
			if err := s.clearPrimary(ctx, siblings, m.ID); err != nil {
				return nil, err
			}
		}
		m.IsPrimary = *in.IsPrimary
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, apperr.Internal("update media", err)
	}
	return present(m), nil
}

// Delete removes the file and its objects. When the primary goes, the next
// file in order takes its place.
func (s *Service) Delete(ctx context.Context, id, userID string, isAdmin bool) error {
	m, err := s.owned(ctx, id, userID, isAdmin)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, m.ID); err != nil {
		return apperr.Internal("delete media", err)
	}
	s.removeObjects(ctx, m)
	if !m.IsPrimary {
		return nil
	}
	rest, err := s.repo.ListByEntity(ctx, m.EntityType, m.EntityID)
	if err != nil {
		return apperr.Internal("list media", err)
	}
	if len(rest) > 0 {
		rest[0].IsPrimary = true
		if err := s.repo.Update(ctx, rest[0]); err != nil {
			return apperr.Internal("update media", err)
		}
	}
	return nil
}

// DeleteEntity removes every file of an entity.
func (s *Service) DeleteEntity(ctx context.Context, entityType, entityID string) error {
	items, err := s.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	for _, m := range items {
		if err := s.repo.Delete(ctx, m.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		s.removeObjects(ctx, m)
	}
	return nil
}

// CleanupOrphans deletes files whose entity no longer exists, using the
// registered ownership checks to find out.
func (s *Service) CleanupOrphans(ctx context.Context) (int, error) {
	removed := 0
	for entityType, check := range s.owners {
		ids, err := s.repo.EntityIDs(ctx, entityType)
		if err != nil {
			return removed, err
		}
		for _, id := range ids {
			_, err := check(ctx, id, "")
			if err == nil {
				continue
			}
			if !apperr.Is(err, apperr.KindNotFound) {
				return removed, err
			}
			if err := s.DeleteEntity(ctx, entityType, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Reorder sets sort_order from the position of each id. ids must name
// exactly the entity's files.
func (s *Service) Reorder(ctx context.Context, userID string, isAdmin bool, entityType, entityID string, ids []string) ([]*Media, error) {
	if err := s.checkOwner(ctx, entityType, entityID, userID, isAdmin); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, apperr.Internal("list media", err)
	}
	byID := make(map[string]*Media, len(items))
	for _, m := range items {
		byID[m.ID] = m
	}
	if len(ids) != len(items) {
		return nil, apperr.FieldError("media_order", "must list every file of the entity once")
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if byID[id] == nil || seen[id] {
			return nil, apperr.FieldError("media_order", "must list every file of the entity once")
		}
		seen[id] = true
	}
	out := make([]*Media, 0, len(ids))
	for i, id := range ids {
		m := byID[id]
		m.SortOrder = i
		if err := s.repo.Update(ctx, m); err != nil {
			return nil, apperr.Internal("update media", err)
		}
		out = append(out, present(m))
	}
	return out, nil
}

// DownloadURL returns a presigned URL, or "" when the store cannot sign
// and the caller must stream with Open.
func (s *Service) DownloadURL(ctx context.Context, m *Media, thumb bool) (string, error) {
	key := m.ObjectKey
	if thumb {
		key = m.ThumbnailKey
	}
	u, err := s.store.PresignGet(ctx, key, PresignTTL)
	if errors.Is(err, storage.ErrNoPresign) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Unavailable("file storage unavailable")
	}
	return u, nil
}

// Open streams the file, or its thumbnail.
func (s *Service) Open(ctx context.Context, m *Media, thumb bool) (io.ReadCloser, *storage.ObjectInfo, error) {
	key := m.ObjectKey
	if thumb {
		if m.ThumbnailKey == "" {
			return nil, nil, apperr.NotFound("file has no thumbnail")
		}
		key = m.ThumbnailKey
	}
	rc, info, err := s.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apperr.NotFound("file content missing")
	}
	if err != nil {
		return nil, nil, apperr.Unavailable("file storage unavailable")
	}
	return rc, info, nil
}

// RegenerateThumbnail rebuilds the thumbnail of an image from the original.
func (s *Service) RegenerateThumbnail(ctx context.Context, id, userID string, isAdmin bool) (*Media, error) {
	m, err := s.owned(ctx, id, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	if m.MediaType != TypeImage {
		return nil, apperr.Business("thumbnails exist only for images")
	}
	rc, _, err := s.Open(ctx, m, false)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, apperr.Internal("read file", err)
	}
	thumb, err := thumbnail(data, ThumbnailWidth)
	if err != nil {
		return nil, apperr.Business("cannot decode image")
	}
	key := thumbKey(m)
	if err := s.store.Put(ctx, key, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
		return nil, apperr.Unavailable("file storage unavailable")
	}
	m.ThumbnailKey = key
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, apperr.Internal("update media", err)
	}
	return present(m), nil
}

func (s *Service) Stats(ctx context.Context, userID string) (*Stats, error) {
	by, err := s.repo.StatsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("media stats", err)
	}
	out := &Stats{ByType: by}
	for _, st := range by {
		out.Total.Count += st.Count
		out.Total.Bytes += st.Bytes
	}
	return out, nil
}

func (s *Service) Limits() Limits {
	exts := make([]string, 0, len(s.allowed))
	types := map[string]string{}
	for ext := range s.allowed {
		exts = append(exts, ext)
		types[ext] = extTypes[ext]
	}
	sort.Strings(exts)
	return Limits{
		MaxFileSize: s.maxBytes, AllowedExtensions: exts,
		MaxFilesPerEntity: EntityLimits, MediaTypes: types,
	}
}

// Ping checks the object store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
