// Package model defines the persisted domain entities shared by the
// ingestion pipeline, the store, and the query API.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Regions is the fixed set of two-letter state codes the upstream bank
// publishes one feed per. Feeds are processed in this order.
var Regions = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO", "MA", "MT", "MS",
	"MG", "PA", "PB", "PR", "PE", "PI", "RJ", "RN", "RS", "RO", "RR", "SC",
	"SP", "SE", "TO",
}

// IsRegion reports whether uf is one of the known state codes.
func IsRegion(uf string) bool {
	for _, r := range Regions {
		if r == uf {
			return true
		}
	}
	return false
}

// Property is one auction listing. Code is the upstream business key and
// the sole reconciliation key: a property is created the first time its
// code appears in a feed and deleted when a full pass over its region's
// feed no longer contains it.
type Property struct {
	Code            string           `json:"code"`
	PropertyType    string           `json:"property_type"`
	PropertySubtype string           `json:"property_subtype"`
	Description     string           `json:"description"`
	Address         string           `json:"address"`
	Neighborhood    string           `json:"neighborhood"`
	City            string           `json:"city"`
	Region          string           `json:"region"`
	PostalCode      string           `json:"postal_code"`
	Price           decimal.Decimal  `json:"price"`
	AppraisedValue  decimal.Decimal  `json:"appraised_value"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TotalArea       *decimal.Decimal `json:"total_area,omitempty"`
	PrivateArea     *decimal.Decimal `json:"private_area,omitempty"`
	LotArea         *decimal.Decimal `json:"lot_area,omitempty"`
	Bedrooms        *int             `json:"bedrooms,omitempty"`
	SaleModality    string           `json:"sale_modality"`
	ListingLink     string           `json:"listing_link"`
	Latitude        *float64         `json:"latitude,omitempty"`
	Longitude       *float64         `json:"longitude,omitempty"`
	ImageURL        string           `json:"image_url"`
	CachedImageURL  *string          `json:"cached_image_url,omitempty"`
	CachedImageID   *string          `json:"cached_image_id,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// HasCoordinates reports whether the property carries a usable geolocation.
// Latitude and longitude are either both set or both unset; a (0,0) pair is
// treated the same as unset because the upstream geocoder occasionally
// emits it for unresolvable addresses.
func (p *Property) HasCoordinates() bool {
	if p.Latitude == nil || p.Longitude == nil {
		return false
	}
	return *p.Latitude != 0 || *p.Longitude != 0
}

// HasCachedImage reports whether the image pipeline has already produced a
// durable copy of the property photo.
func (p *Property) HasCachedImage() bool {
	return p.CachedImageID != nil && *p.CachedImageID != ""
}

// ClassifyType maps a free-form subtype token ("Apartamento", "Casa",
// "Terreno", ...) onto a coarse bucket used by the query API's type filter.
func ClassifyType(subtype string) string {
	s := strings.ToLower(strings.TrimSpace(subtype))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "apartamento"):
		return "Apartamento"
	case strings.Contains(s, "casa"), strings.Contains(s, "sobrado"):
		return "Casa"
	case strings.Contains(s, "terreno"), strings.Contains(s, "lote"),
		strings.Contains(s, "gleba"):
		return "Terreno"
	case strings.Contains(s, "comercial"), strings.Contains(s, "loja"),
		strings.Contains(s, "sala"), strings.Contains(s, "galpão"),
		strings.Contains(s, "galpao"), strings.Contains(s, "prédio"),
		strings.Contains(s, "predio"):
		return "Comercial"
	case strings.Contains(s, "rural"), strings.Contains(s, "chácara"),
		strings.Contains(s, "chacara"), strings.Contains(s, "sítio"),
		strings.Contains(s, "sitio"), strings.Contains(s, "fazenda"):
		return "Rural"
	default:
		return "Outros"
	}
}
