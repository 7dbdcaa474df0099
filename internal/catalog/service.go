package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
)

const MinCarYear = 1950

// Service answers catalog queries from an in-memory snapshot of the
// repository. Call Reload after the stored catalog changes.
type Service struct {
	repo Repository

	mu         sync.RWMutex
	data       *Data
	brandByID  map[string]*Brand
	modelByID  map[string]*Model
	modelsOf   map[string][]*Model
	gensOf     map[string][]*Generation
	genByID    map[string]*Generation
	dictionary map[string]map[string]bool
	now        func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Reload rebuilds the snapshot from the repository.
func (s *Service) Reload(ctx context.Context) error {
	d, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index(d)
	return nil
}

func (s *Service) index(d *Data) {
	s.data = d
	s.brandByID = map[string]*Brand{}
	s.modelByID = map[string]*Model{}
	s.modelsOf = map[string][]*Model{}
	s.gensOf = map[string][]*Generation{}
	s.genByID = map[string]*Generation{}
	for i := range d.Brands {
		b := &d.Brands[i]
		if b.IsActive {
			s.brandByID[b.ID] = b
		}
	}
	for i := range d.Models {
		m := &d.Models[i]
		if !m.IsActive {
			continue
		}
		s.modelByID[m.ID] = m
		s.modelsOf[m.BrandID] = append(s.modelsOf[m.BrandID], m)
	}
	for _, ms := range s.modelsOf {
		sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
	}
	for i := range d.Generations {
		g := &d.Generations[i]
		s.genByID[g.ID] = g
		s.gensOf[g.ModelID] = append(s.gensOf[g.ModelID], g)
	}
	for _, gs := range s.gensOf {
		sort.Slice(gs, func(i, j int) bool { return gs[i].StartYear < gs[j].StartYear })
	}
	refIDs := func(items []Reference) map[string]bool {
		out := map[string]bool{}
		for _, r := range items {
			out[r.ID] = true
		}
		return out
	}
	colors, features := map[string]bool{}, map[string]bool{}
	for _, c := range d.Colors {
		colors[c.ID] = true
	}
	for _, f := range d.Features {
		features[f.ID] = true
	}
	s.dictionary = map[string]map[string]bool{
		KindBodyType:     refIDs(d.BodyTypes),
		KindEngineType:   refIDs(d.EngineTypes),
		KindTransmission: refIDs(d.TransmissionTypes),
		KindDriveType:    refIDs(d.DriveTypes),
		KindColor:        colors,
		KindFeature:      features,
	}
}

func (s *Service) read(ctx context.Context, fn func()) error {
	s.mu.RLock()
	loaded := s.data != nil
	s.mu.RUnlock()
	if !loaded {
		if err := s.Reload(ctx); err != nil {
			return err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
	return nil
}

func contains(name, q string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(strings.TrimSpace(q)))
}

// Brands lists active brands by sort order, optionally filtered.
func (s *Service) Brands(ctx context.Context, popularOnly bool, q string, limit int) ([]Brand, error) {
	out := []Brand{}
	err := s.read(ctx, func() {
		for _, b := range s.data.Brands {
			if !b.IsActive || (popularOnly && !b.IsPopular) || (q != "" && !contains(b.Name, q)) {
				continue
			}
			out = append(out, b)
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (s *Service) Brand(ctx context.Context, id string) (*Brand, error) {
	var b *Brand
	if err := s.read(ctx, func() { b = s.brandByID[id] }); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.NotFound("brand %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (s *Service) Models(ctx context.Context, brandID, q string) ([]Model, error) {
	if _, err := s.Brand(ctx, brandID); err != nil {
		return nil, err
	}
	out := []Model{}
	err := s.read(ctx, func() {
		for _, m := range s.modelsOf[brandID] {
			if q == "" || contains(m.Name, q) {
				out = append(out, *m)
			}
		}
	})
	return out, err
}

func (s *Service) Model(ctx context.Context, id string) (*Model, error) {
	var m *Model
	if err := s.read(ctx, func() { m = s.modelByID[id] }); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperr.NotFound("model %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *Service) Generations(ctx context.Context, modelID string) ([]Generation, error) {
	if _, err := s.Model(ctx, modelID); err != nil {
		return nil, err
	}
	out := []Generation{}
	err := s.read(ctx, func() {
		for _, g := range s.gensOf[modelID] {
			out = append(out, *g)
		}
	})
	return out, err
}

// ReferenceData returns every dictionary at once.
func (s *Service) ReferenceData(ctx context.Context) (*References, error) {
	var r References
	err := s.read(ctx, func() { r = s.data.References })
	return &r, err
}

// Features filters the feature list by category and name.
func (s *Service) Features(ctx context.Context, category, q string) ([]Feature, error) {
	out := []Feature{}
	err := s.read(ctx, func() {
		for _, f := range s.data.Features {
			if (category == "" || f.Category == category) && (q == "" || contains(f.Name, q)) {
				out = append(out, f)
			}
		}
	})
	return out, err
}

// Attributes returns attribute groups; searchable/filterable narrow the
// attributes and drop empty groups.
func (s *Service) Attributes(ctx context.Context, searchable, filterable bool) ([]AttributeGroup, error) {
	out := []AttributeGroup{}
	err := s.read(ctx, func() {
		for _, g := range s.data.AttributeGroups {
			cp := g
			cp.Attributes = []Attribute{}
			for _, a := range g.Attributes {
				if (searchable && !a.IsSearchable) || (filterable && !a.IsFilterable) {
					continue
				}
				cp.Attributes = append(cp.Attributes, a)
			}
			if (searchable || filterable) && len(cp.Attributes) == 0 {
				continue
			}
			out = append(out, cp)
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, err
}

type ModelNode struct {
	Model
	Generations []Generation `json:"generations"`
}

type BrandNode struct {
	Brand
	Models []ModelNode `json:"models"`
}

// Hierarchy returns brands with their models and generations. brandID
// restricts the tree to one brand.
func (s *Service) Hierarchy(ctx context.Context, brandID string) ([]BrandNode, error) {
	brands, err := s.Brands(ctx, false, "", 0)
	if err != nil {
		return nil, err
	}
	out := []BrandNode{}
	err = s.read(ctx, func() {
		for _, b := range brands {
			if brandID != "" && b.ID != brandID {
				continue
			}
			node := BrandNode{Brand: b, Models: []ModelNode{}}
			for _, m := range s.modelsOf[b.ID] {
				mn := ModelNode{Model: *m, Generations: []Generation{}}
				for _, g := range s.gensOf[m.ID] {
					mn.Generations = append(mn.Generations, *g)
				}
				node.Models = append(node.Models, mn)
			}
			out = append(out, node)
		}
	})
	if err == nil && brandID != "" && len(out) == 0 {
		return nil, apperr.NotFound("brand %s not found", brandID)
	}
	return out, err
}

// Years lists model years from next year down to MinCarYear.
func (s *Service) Years() []int {
	last := s.now().Year() + 1
	out := make([]int, 0, last-MinCarYear+1)
	for y := last; y >= MinCarYear; y-- {
		out = append(out, y)
	}
	return out
}

// ValidateCarYear checks MinCarYear <= y <= next year.
func (s *Service) ValidateCarYear(y int) error {
	if y < MinCarYear || y > s.now().Year()+1 {
		return apperr.FieldError("year", "must be between 1950 and next year")
	}
	return nil
}

type SearchResult struct {
	Brands []Brand `json:"brands"`
	Models []Model `json:"models"`
}

// Search matches brand and model names case-insensitively; prefix matches
// come first.
func (s *Service) Search(ctx context.Context, q string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	res := &SearchResult{Brands: []Brand{}, Models: []Model{}}
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return res, nil
	}
	rank := func(name string) int {
		n := strings.ToLower(name)
		switch {
		case strings.HasPrefix(n, q):
			return 0
		case strings.Contains(n, q):
			return 1
		}
		return -1
	}
	err := s.read(ctx, func() {
		type scored struct {
			r int
			i int
		}
		var bs, ms []scored
		for i, b := range s.data.Brands {
			if r := rank(b.Name); r >= 0 && b.IsActive {
				bs = append(bs, scored{r, i})
			}
		}
		for i, m := range s.data.Models {
			if r := rank(m.Name); r >= 0 && m.IsActive && s.brandByID[m.BrandID] != nil {
				ms = append(ms, scored{r, i})
			}
		}
		sort.SliceStable(bs, func(a, b int) bool { return bs[a].r < bs[b].r })
		sort.SliceStable(ms, func(a, b int) bool {
			if ms[a].r != ms[b].r {
				return ms[a].r < ms[b].r
			}
			return s.data.Models[ms[a].i].Name < s.data.Models[ms[b].i].Name
		})
		for _, x := range bs {
			if len(res.Brands) == limit {
				break
			}
			res.Brands = append(res.Brands, s.data.Brands[x.i])
		}
		for _, x := range ms {
			if len(res.Models) == limit {
				break
			}
			res.Models = append(res.Models, s.data.Models[x.i])
		}
	})
	return res, err
}

// Exists checks that modelID belongs to brandID and, when set, that
// generationID belongs to the model.
func (s *Service) Exists(ctx context.Context, brandID, modelID, generationID string) error {
	var problem *apperr.Error
	err := s.read(ctx, func() {
		if s.brandByID[brandID] == nil {
			problem = apperr.FieldError("brand_id", "unknown brand")
			return
		}
		m := s.modelByID[modelID]
		if m == nil || m.BrandID != brandID {
			problem = apperr.FieldError("model_id", "model does not belong to the brand")
			return
		}
		if generationID != "" {
			if g := s.genByID[generationID]; g == nil || g.ModelID != modelID {
				problem = apperr.FieldError("generation_id", "generation does not belong to the model")
			}
		}
	})
	if err != nil {
		return err
	}
	if problem != nil {
		return problem
	}
	return nil
}

// HasReference reports whether id exists in the dictionary of kind.
func (s *Service) HasReference(ctx context.Context, kind, id string) (bool, error) {
	var ok bool
	err := s.read(ctx, func() { ok = s.dictionary[kind][id] })
	return ok, err
}

// Names resolves display names for a brand and model, for listing titles.
func (s *Service) Names(ctx context.Context, brandID, modelID string) (brand, model string) {
	_ = s.read(ctx, func() {
		if b := s.brandByID[brandID]; b != nil {
			brand = b.Name
		}
		if m := s.modelByID[modelID]; m != nil {
			model = m.Name
		}
	})
	return brand, model
}
