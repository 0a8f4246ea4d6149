// Package api serves the listing query surface consumed by the map
// frontend: filtered listing pages, single-listing lookup, and the
// distinct value endpoints that drive filter dropdowns.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/imovelmapa/imovsync/internal/model"
	"github.com/imovelmapa/imovsync/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 500
	lookupTTL       = 5 * time.Minute
)

// Server holds the handlers and their dependencies.
type Server struct {
	store store.Store
	cache lookupCache
}

// New creates a Server over the given store.
func New(st store.Store) *Server {
	return &Server{store: st}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/properties", s.handleListProperties)
		r.Get("/properties/{code}", s.handleGetProperty)
		r.Get("/regions", s.handleRegions)
		r.Get("/regions/{uf}/cities", s.handleCities)
		r.Get("/cities/{city}/neighborhoods", s.handleNeighborhoods)
		r.Get("/types", s.handleTypes)
		r.Get("/runs", s.handleRuns)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listEnvelope is the paginated response shape.
type listEnvelope struct {
	Count    int              `json:"count"`
	Next     *string          `json:"next"`
	Previous *string          `json:"previous"`
	Results  []model.Property `json:"results"`
}

func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	props, total, err := s.store.List(r.Context(), filter)
	if err != nil {
		zap.L().Error("list properties failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if props == nil {
		props = []model.Property{}
	}

	writeJSON(w, http.StatusOK, listEnvelope{
		Count:    total,
		Next:     pageLink(r.URL, filter.Page+1, filter.Page*filter.PageSize < total),
		Previous: pageLink(r.URL, filter.Page-1, filter.Page > 1),
		Results:  props,
	})
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	p, err := s.store.GetByCode(r.Context(), code)
	if err != nil {
		zap.L().Error("get property failed", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "property not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	s.distinct(w, r, "regions", func() ([]string, error) {
		return s.store.Regions(r.Context())
	})
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	uf := strings.ToUpper(chi.URLParam(r, "uf"))
	if !model.IsRegion(uf) {
		writeError(w, http.StatusNotFound, "unknown state")
		return
	}
	s.distinct(w, r, "cities:"+uf, func() ([]string, error) {
		return s.store.Cities(r.Context(), uf)
	})
}

func (s *Server) handleNeighborhoods(w http.ResponseWriter, r *http.Request) {
	city, err := url.PathUnescape(chi.URLParam(r, "city"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid city")
		return
	}
	s.distinct(w, r, "neighborhoods:"+city, func() ([]string, error) {
		return s.store.Neighborhoods(r.Context(), city)
	})
}

func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	s.distinct(w, r, "types", func() ([]string, error) {
		return s.store.Types(r.Context())
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if runs == nil {
		runs = []model.ImportRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// distinct serves a cached distinct-value lookup.
func (s *Server) distinct(w http.ResponseWriter, _ *http.Request, key string, load func() ([]string, error)) {
	if values, ok := s.cache.get(key); ok {
		writeJSON(w, http.StatusOK, values)
		return
	}
	values, err := load()
	if err != nil {
		zap.L().Error("distinct lookup failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if values == nil {
		values = []string{}
	}
	s.cache.put(key, values)
	writeJSON(w, http.StatusOK, values)
}

// parseFilter maps query parameters onto a store filter. Multi-value
// params take comma-separated lists.
func parseFilter(q url.Values) (store.ListFilter, error) {
	filter := store.ListFilter{
		Regions:       splitParam(q.Get("region")),
		Cities:        splitParam(q.Get("city")),
		Neighborhoods: splitParam(q.Get("neighborhood")),
		Types:         splitParam(q.Get("type")),
		Code:          strings.TrimSpace(q.Get("code")),
		Page:          1,
		PageSize:      defaultPageSize,
	}
	for i, uf := range filter.Regions {
		filter.Regions[i] = strings.ToUpper(uf)
	}

	var err error
	if filter.PriceMin, err = decimalParam(q.Get("price_min")); err != nil {
		return filter, err
	}
	if filter.PriceMax, err = decimalParam(q.Get("price_max")); err != nil {
		return filter, err
	}
	if filter.DiscountMin, err = decimalParam(q.Get("discount_min")); err != nil {
		return filter, err
	}
	if v := q.Get("bedrooms_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, eris.New("invalid bedrooms_min")
		}
		filter.BedroomsMin = &n
	}
	if v := q.Get("page"); v != "" {
		if filter.Page, err = strconv.Atoi(v); err != nil || filter.Page < 1 {
			return filter, eris.New("invalid page")
		}
	}
	if v := q.Get("page_size"); v != "" {
		if filter.PageSize, err = strconv.Atoi(v); err != nil || filter.PageSize < 1 {
			return filter, eris.New("invalid page_size")
		}
		if filter.PageSize > maxPageSize {
			filter.PageSize = maxPageSize
		}
	}
	switch q.Get("with_coordinates") {
	case "1", "true":
		filter.RequireCoordinates = true
	}
	return filter, nil
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func decimalParam(v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, eris.Errorf("invalid numeric parameter %q", v)
	}
	return &d, nil
}

// pageLink renders the request URL with the page parameter swapped, nil
// when the neighboring page does not exist.
func pageLink(u *url.URL, page int, exists bool) *string {
	if !exists {
		return nil
	}
	link := *u
	q := link.Query()
	q.Set("page", strconv.Itoa(page))
	link.RawQuery = q.Encode()
	s := link.String()
	return &s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// lookupCache is a small TTL cache for the distinct value endpoints,
// which change only when an import runs.
type lookupCache struct {
	mu      sync.Mutex
	entries map[string]lookupEntry
}

type lookupEntry struct {
	values  []string
	expires time.Time
}

func (c *lookupCache) get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.values, true
}

func (c *lookupCache) put(key string, values []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]lookupEntry)
	}
	c.entries[key] = lookupEntry{values: values, expires: time.Now().Add(lookupTTL)}
}
