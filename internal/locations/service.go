package locations

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/geo"
)

const (
	DefaultRadiusKm  = 50
	hierarchyCities  = 10
	searchGroupLimit = 5
)

type Service struct {
	repo Repository

	mu       sync.RWMutex
	data     *Data
	regionBy map[string]*Region
	cityBy   map[string]*City
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Reload(ctx context.Context) error {
	d, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(d.Regions, func(i, j int) bool { return d.Regions[i].SortOrder < d.Regions[j].SortOrder })
	sort.SliceStable(d.Cities, func(i, j int) bool {
		if d.Cities[i].SortOrder != d.Cities[j].SortOrder {
			return d.Cities[i].SortOrder < d.Cities[j].SortOrder
		}
		return d.Cities[i].Population > d.Cities[j].Population
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = d
	s.regionBy = make(map[string]*Region, len(d.Regions))
	s.cityBy = make(map[string]*City, len(d.Cities))
	for i := range d.Regions {
		s.regionBy[d.Regions[i].ID] = &d.Regions[i]
	}
	for i := range d.Cities {
		s.cityBy[d.Cities[i].ID] = &d.Cities[i]
	}
	return nil
}

func (s *Service) read(ctx context.Context, fn func(d *Data)) error {
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
	fn(s.data)
	return nil
}

func (s *Service) Countries(ctx context.Context) ([]Country, error) {
	var out []Country
	err := s.read(ctx, func(d *Data) { out = append([]Country{}, d.Countries...) })
	return out, err
}

func (s *Service) Country(ctx context.Context, id string) (*Country, error) {
	var found *Country
	err := s.read(ctx, func(d *Data) {
		for i := range d.Countries {
			if d.Countries[i].ID == id {
				c := d.Countries[i]
				found = &c
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, apperr.NotFound("country %s not found", id)
	}
	return found, nil
}

// Regions lists regions, optionally of a single country.
func (s *Service) Regions(ctx context.Context, countryID string) ([]Region, error) {
	out := []Region{}
	err := s.read(ctx, func(d *Data) {
		for _, r := range d.Regions {
			if countryID == "" || r.CountryID == countryID {
				out = append(out, r)
			}
		}
	})
	return out, err
}

func (s *Service) Region(ctx context.Context, id string) (*Region, error) {
	var r *Region
	if err := s.read(ctx, func(*Data) { r = s.regionBy[id] }); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperr.NotFound("region %s not found", id)
	}
	cp := *r
	return &cp, nil
}

type CityFilter struct {
	RegionID  string
	CountryID string
	MajorOnly bool
	Limit     int
}

func (s *Service) Cities(ctx context.Context, f CityFilter) ([]City, error) {
	out := []City{}
	err := s.read(ctx, func(d *Data) {
		for _, c := range d.Cities {
			if f.RegionID != "" && c.RegionID != f.RegionID {
				continue
			}
			if f.CountryID != "" {
				if r := s.regionBy[c.RegionID]; r == nil || r.CountryID != f.CountryID {
					continue
				}
			}
			if f.MajorOnly && !c.IsMajor {
				continue
			}
			out = append(out, c)
			if f.Limit > 0 && len(out) == f.Limit {
				return
			}
		}
	})
	return out, err
}

func (s *Service) City(ctx context.Context, id string) (*City, error) {
	var c *City
	if err := s.read(ctx, func(*Data) { c = s.cityBy[id] }); err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("city %s not found", id)
	}
	cp := *c
	return &cp, nil
}

// RegionCities lists the cities of an existing region.
func (s *Service) RegionCities(ctx context.Context, regionID string) ([]City, error) {
	if _, err := s.Region(ctx, regionID); err != nil {
		return nil, err
	}
	return s.Cities(ctx, CityFilter{RegionID: regionID})
}

// SearchCities matches city names case-insensitively, prefix matches first
// and then by population.
func (s *Service) SearchCities(ctx context.Context, q, regionID string, limit int) ([]City, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []City{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	type hit struct {
		city   City
		prefix bool
	}
	var hits []hit
	err := s.read(ctx, func(d *Data) {
		for _, c := range d.Cities {
			name := strings.ToLower(c.Name)
			if !strings.Contains(name, q) || (regionID != "" && c.RegionID != regionID) {
				continue
			}
			hits = append(hits, hit{c, strings.HasPrefix(name, q)})
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].prefix != hits[j].prefix {
			return hits[i].prefix
		}
		return hits[i].city.Population > hits[j].city.Population
	})
	out := make([]City, 0, limit)
	for _, h := range hits {
		if len(out) == limit {
			break
		}
		out = append(out, h.city)
	}
	return out, nil
}

type SearchResult struct {
	Countries []Country `json:"countries"`
	Regions   []Region  `json:"regions"`
	Cities    []City    `json:"cities"`
}

// Search looks up countries, regions and cities at once.
func (s *Service) Search(ctx context.Context, q string, limit int) (*SearchResult, error) {
	res := &SearchResult{Countries: []Country{}, Regions: []Region{}}
	needle := strings.ToLower(strings.TrimSpace(q))
	err := s.read(ctx, func(d *Data) {
		if needle == "" {
			return
		}
		for _, c := range d.Countries {
			if len(res.Countries) < searchGroupLimit && strings.Contains(strings.ToLower(c.Name), needle) {
				res.Countries = append(res.Countries, c)
			}
		}
		for _, r := range d.Regions {
			if len(res.Regions) < searchGroupLimit && strings.Contains(strings.ToLower(r.Name), needle) {
				res.Regions = append(res.Regions, r)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	res.Cities, err = s.SearchCities(ctx, q, "", limit)
	return res, err
}

// NearbyCity is a city with its distance from the query point.
type NearbyCity struct {
	City
	DistanceKm float64 `json:"distance_km"`
}

// Nearby returns cities within radiusKm of the point, nearest first.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]NearbyCity, error) {
	if !geo.ValidPoint(lat, lng) {
		return nil, apperr.Validation("invalid coordinates")
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}
	if limit <= 0 {
		limit = 20
	}
	out := []NearbyCity{}
	err := s.read(ctx, func(d *Data) {
		for _, c := range d.Cities {
			if dist := geo.DistanceKm(lat, lng, c.Latitude, c.Longitude); dist <= radiusKm {
				out = append(out, NearbyCity{City: c, DistanceKm: dist})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

type RegionNode struct {
	Region
	Cities []City `json:"cities"`
}

type CountryNode struct {
	Country
	Regions []RegionNode `json:"regions"`
}

// Hierarchy returns countries with regions and up to ten cities each.
func (s *Service) Hierarchy(ctx context.Context) ([]CountryNode, error) {
	out := []CountryNode{}
	err := s.read(ctx, func(d *Data) {
		for _, c := range d.Countries {
			node := CountryNode{Country: c, Regions: []RegionNode{}}
			for _, r := range d.Regions {
				if r.CountryID != c.ID {
					continue
				}
				rn := RegionNode{Region: r, Cities: []City{}}
				for _, city := range d.Cities {
					if city.RegionID == r.ID && len(rn.Cities) < hierarchyCities {
						rn.Cities = append(rn.Cities, city)
					}
				}
				node.Regions = append(node.Regions, rn)
			}
			out = append(out, node)
		}
	})
	return out, err
}

type Stats struct {
	Countries       int `json:"countries_count"`
	Regions         int `json:"regions_count"`
	Cities          int `json:"cities_count"`
	MajorCities     int `json:"major_cities_count"`
	KZRegions       int `json:"kz_regions_count"`
	KZCities        int `json:"kz_cities_count"`
	TotalPopulation int `json:"total_population"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.read(ctx, func(d *Data) {
		st.Countries, st.Regions, st.Cities = len(d.Countries), len(d.Regions), len(d.Cities)
		for _, r := range d.Regions {
			if r.CountryID == "kz" {
				st.KZRegions++
			}
		}
		for _, c := range d.Cities {
			if c.IsMajor {
				st.MajorCities++
			}
			st.TotalPopulation += c.Population
			if r := s.regionBy[c.RegionID]; r != nil && r.CountryID == "kz" {
				st.KZCities++
			}
		}
	})
	return st, err
}

// Exists reports whether the city id is known.
func (s *Service) Exists(ctx context.Context, cityID string) (bool, error) {
	var ok bool
	err := s.read(ctx, func(*Data) { ok = s.cityBy[cityID] != nil })
	return ok, err
}

// RegionOf returns the region id of a city, or "".
func (s *Service) RegionOf(ctx context.Context, cityID string) string {
	var id string
	_ = s.read(ctx, func(*Data) {
		if c := s.cityBy[cityID]; c != nil {
			id = c.RegionID
		}
	})
	return id
}
