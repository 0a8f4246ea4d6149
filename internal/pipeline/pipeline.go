// Package pipeline runs the feed import: fetch each region's listing
// feed, reconcile it against the store, and enrich records with
// coordinates and mirrored photos.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imovelmapa/imovsync/internal/feed"
	"github.com/imovelmapa/imovsync/internal/images"
	"github.com/imovelmapa/imovsync/internal/model"
	"github.com/imovelmapa/imovsync/internal/store"
	"github.com/imovelmapa/imovsync/pkg/geocode"
)

// FeedSource fetches and decodes one region's feed.
type FeedSource interface {
	FetchFeed(ctx context.Context, region string) (string, error)
}

// Geocoder resolves an address to coordinates. nil result with nil error
// means the address could not be resolved.
type Geocoder interface {
	Resolve(ctx context.Context, address, city, region string) (*geocode.Result, error)
}

// ImageAcquirer mirrors one listing photo. nil ref with nil error means
// the photo was already mirrored.
type ImageAcquirer interface {
	Acquire(ctx context.Context, code, region, city string) (*images.Ref, error)
	PhotoURL(code string) string
}

// Engine drives one import run. Regions are processed sequentially; a
// failed region is counted and skipped, never aborts the rest of the run.
type Engine struct {
	store  store.Store
	feed   FeedSource
	geo    Geocoder
	images ImageAcquirer
}

// New assembles an engine. Geocoder and acquirer may be nil to disable
// that enrichment.
func New(st store.Store, src FeedSource, geo Geocoder, img ImageAcquirer) *Engine {
	return &Engine{store: st, feed: src, geo: geo, images: img}
}

// Run imports the given regions in order and records the run. The
// returned summary is also persisted on the run row.
func (e *Engine) Run(ctx context.Context, regions []string) (model.ImportSummary, error) {
	run, err := e.store.CreateRun(ctx, regions)
	if err != nil {
		return model.ImportSummary{}, err
	}
	start := time.Now()
	zap.L().Info("import run started", zap.String("run_id", run.ID), zap.Strings("regions", regions))

	var summary model.ImportSummary
	for _, region := range regions {
		regionSummary, err := e.processRegion(ctx, region)
		if err != nil {
			zap.L().Error("region failed", zap.String("region", region), zap.Error(err))
			summary.FailedRegions++
			continue
		}
		summary.Add(regionSummary)
	}

	status := model.RunStatusComplete
	if summary.FailedRegions == len(regions) && len(regions) > 0 {
		status = model.RunStatusFailed
	}
	if err := e.store.CompleteRun(ctx, run.ID, status, summary); err != nil {
		return summary, err
	}

	zap.L().Info("import run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Int("processed", summary.TotalProcessed),
		zap.Int("new", summary.TotalNew),
		zap.Int("updated", summary.TotalUpdated),
		zap.Int("removed", summary.TotalRemoved),
		zap.Int("failed_regions", summary.FailedRegions),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

// processRegion reconciles one region's feed against the store: listings
// missing from the feed are deleted first, then every feed row is
// upserted or refreshed in order.
func (e *Engine) processRegion(ctx context.Context, region string) (model.ImportSummary, error) {
	var summary model.ImportSummary

	text, err := e.feed.FetchFeed(ctx, region)
	if err != nil {
		return summary, err
	}
	doc, err := feed.ParseDocument(text)
	if err != nil {
		return summary, err
	}
	// A header with no data rows means a truncated or placeholder feed.
	// Diffing against it would delete the region's entire catalog.
	if doc.Len() == 0 {
		return summary, eris.Errorf("pipeline: feed for %s has no data rows", region)
	}

	feedCodes := doc.Codes()
	existing, err := e.store.CodesByRegion(ctx, region)
	if err != nil {
		return summary, err
	}

	var stale []string
	for code := range existing {
		if _, ok := feedCodes[code]; !ok {
			stale = append(stale, code)
		}
	}
	removed, err := e.store.BulkDeleteByCodes(ctx, region, stale)
	if err != nil {
		return summary, err
	}
	summary.TotalRemoved = removed

	for row := range doc.Rows() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		code := row.Code()
		if code == "" {
			continue
		}

		isNew, err := e.processRow(ctx, region, code, row)
		if err != nil {
			zap.L().Warn("listing skipped", zap.String("code", code), zap.Error(err))
			continue
		}
		summary.TotalProcessed++
		if isNew {
			summary.TotalNew++
		} else {
			summary.TotalUpdated++
		}
	}

	zap.L().Info("region reconciled",
		zap.String("region", region),
		zap.Int("feed_rows", doc.Len()),
		zap.Int("removed", removed),
	)
	return summary, nil
}

// processRow handles one feed row. Reports whether the listing was new.
func (e *Engine) processRow(ctx context.Context, region, code string, row feed.Row) (bool, error) {
	current, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return false, err
	}

	if current == nil {
		p := e.buildProperty(region, code, row)
		if err := e.store.Upsert(ctx, p); err != nil {
			return false, err
		}
		e.geocodeListing(ctx, p)
		e.mirrorPhoto(ctx, p)
		return true, nil
	}

	// Known listing: coordinates are resolved once and kept, only the
	// photo mirror is re-attempted when it is still missing.
	if !current.HasCoordinates() {
		e.geocodeListing(ctx, current)
	}
	e.mirrorPhoto(ctx, current)
	return false, nil
}

// buildProperty maps a feed row onto a fresh record.
func (e *Engine) buildProperty(region, code string, row feed.Row) *model.Property {
	description := strings.TrimSpace(row[feed.ColDescription])
	subtype := feed.ExtractSubtype(description)
	areas := feed.ExtractAreas(description)

	p := &model.Property{
		Code:            code,
		PropertySubtype: subtype,
		PropertyType:    model.ClassifyType(subtype),
		Description:     description,
		Address:         strings.TrimSpace(row[feed.ColAddress]),
		Neighborhood:    strings.TrimSpace(row[feed.ColNeighborhood]),
		City:            strings.TrimSpace(row[feed.ColCity]),
		Region:          region,
		PostalCode:      strings.TrimSpace(row[feed.ColPostalCode]),
		TotalArea:       areas.Total,
		PrivateArea:     areas.Private,
		LotArea:         areas.Lot,
		Bedrooms:        areas.Bedrooms,
		SaleModality:    strings.TrimSpace(row[feed.ColModality]),
		ListingLink:     strings.TrimSpace(row[feed.ColLink]),
	}
	if e.images != nil {
		p.ImageURL = e.images.PhotoURL(code)
	}

	var perr error
	if p.Price, perr = feed.ParseMoney(row[feed.ColPrice]); perr != nil {
		zap.L().Warn("unparseable price", zap.String("code", code), zap.Error(perr))
	}
	if p.AppraisedValue, perr = feed.ParseMoney(row[feed.ColAppraisal]); perr != nil {
		zap.L().Warn("unparseable appraisal", zap.String("code", code), zap.Error(perr))
	}
	if p.DiscountPercent, perr = feed.ParseMoney(row[feed.ColDiscount]); perr != nil {
		zap.L().Warn("unparseable discount", zap.String("code", code), zap.Error(perr))
	}
	return p
}

// geocodeListing resolves and persists coordinates. Geocoding failures
// only log: a listing without coordinates is still a valid listing.
func (e *Engine) geocodeListing(ctx context.Context, p *model.Property) {
	if e.geo == nil {
		return
	}
	address := geocodeQuery(p)
	res, err := e.geo.Resolve(ctx, address, p.City, p.Region)
	if err != nil {
		zap.L().Warn("geocoding errored", zap.String("code", p.Code), zap.Error(err))
		return
	}
	if res == nil {
		return
	}
	if err := e.store.SetCoordinates(ctx, p.Code, res.Latitude, res.Longitude); err != nil {
		zap.L().Warn("persist coordinates failed", zap.String("code", p.Code), zap.Error(err))
		return
	}
	p.Latitude = &res.Latitude
	p.Longitude = &res.Longitude
}

// mirrorPhoto acquires and persists the listing photo unless a mirrored
// copy is already recorded.
func (e *Engine) mirrorPhoto(ctx context.Context, p *model.Property) {
	if e.images == nil || p.HasCachedImage() {
		return
	}
	ref, err := e.images.Acquire(ctx, p.Code, p.Region, p.City)
	if err != nil {
		zap.L().Warn("photo mirror failed", zap.String("code", p.Code), zap.Error(err))
		return
	}
	if ref == nil {
		return
	}
	if err := e.store.SetImage(ctx, p.Code, ref.URL, ref.ID); err != nil {
		zap.L().Warn("persist photo failed", zap.String("code", p.Code), zap.Error(err))
		return
	}
	p.CachedImageURL = &ref.URL
	p.CachedImageID = &ref.ID
}

// geocodeQuery builds the free-text address sent to the geocoder.
func geocodeQuery(p *model.Property) string {
	parts := make([]string, 0, 4)
	for _, s := range []string{p.Address, p.Neighborhood, p.City, p.Region} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return fmt.Sprintf("%s, Brasil", strings.Join(parts, ", "))
}
