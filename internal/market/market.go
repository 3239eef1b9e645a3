// Package market implements the market-data layer of spec §4.1: FetchBars
// with cache-merge semantics over an on-disk JSON series per (instrument,
// aggregation), liquidation-price estimation, and the catalog operations
// the HTTP surface exposes. Grounded on the teacher's store.Store
// write-tmp-then-rename idiom for the cache files themselves, and on
// original_source/engine/src/data/market_data.py's MarketDataService for
// the prefix/suffix gap-fetch algorithm.
package market

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"quantcore/internal/venue"
	"quantcore/pkg/types"
)

// ErrDataGap is returned when the venue has no data for a required gap and
// no cached subset exists to fall back on.
type ErrDataGap struct {
	Instrument string
	Start, End time.Time
	Cause      error
}

func (e *ErrDataGap) Error() string {
	return fmt.Sprintf("market: data gap for %s [%s, %s]: %v", e.Instrument, e.Start, e.End, e.Cause)
}
func (e *ErrDataGap) Unwrap() error { return e.Cause }

// ErrUnsupported is returned when the requested aggregation is not in
// types.SupportedAggregations.
type ErrUnsupported struct {
	Aggregation types.BarAggregation
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("market: unsupported aggregation %q", e.Aggregation)
}

// CacheStore is the persistence dependency: the market_data_cache table.
type CacheStore interface {
	GetCacheIndex(instrument string, agg types.BarAggregation) (*types.CacheIndexEntry, error)
	UpsertCacheIndex(entry types.CacheIndexEntry) error
	ListCacheIndex() ([]types.CacheIndexEntry, error)
	DeleteCacheIndex(instrument string, agg types.BarAggregation) error
}

// Layer is the market-data layer: it satisfies backtest.BarSource and is
// the thing HTTP handlers call for the data/cache/status route.
type Layer struct {
	primary venue.Connector
	dataDir string
	store   CacheStore
	logger  *slog.Logger
}

// New constructs a Layer. primary is the connector used to fill cache gaps
// (a real exchange connector in production, a sim.Connector in backtests
// replaying data that is already fully cached).
func New(primary venue.Connector, dataDir string, store CacheStore, logger *slog.Logger) *Layer {
	return &Layer{
		primary: primary,
		dataDir: dataDir,
		store:   store,
		logger:  logger.With("component", "market"),
	}
}

// FetchBars returns the exact inclusive [start, end] range, serving from
// cache when fully covered and otherwise fetching only the uncovered
// prefix/suffix from the venue. See spec §4.1's cache policy.
func (l *Layer) FetchBars(instrument string, agg types.BarAggregation, start, end time.Time) ([]types.MarketBar, error) {
	if !types.SupportedAggregations[agg] {
		return nil, &ErrUnsupported{Aggregation: agg}
	}
	ctx := context.Background()

	entry, err := l.store.GetCacheIndex(instrument, agg)
	if err != nil {
		return nil, fmt.Errorf("market: load cache index: %w", err)
	}

	var cached []types.MarketBar
	if entry != nil {
		cached, err = l.readSeries(entry)
		if err != nil {
			l.logger.Warn("cache file unreadable or hash mismatch, refetching from scratch", "instrument", instrument, "error", err)
			entry = nil
			cached = nil
		}
	}

	if entry != nil && !start.Before(entry.StartDate) && !end.After(entry.EndDate) {
		return sliceRange(cached, start, end), nil
	}

	var gaps [][2]time.Time
	switch {
	case entry == nil:
		gaps = append(gaps, [2]time.Time{start, end})
	default:
		if start.Before(entry.StartDate) {
			gaps = append(gaps, [2]time.Time{start, entry.StartDate})
		}
		if end.After(entry.EndDate) {
			gaps = append(gaps, [2]time.Time{entry.EndDate, end})
		}
	}

	var fetched []types.MarketBar
	var fetchErr error
	for _, gap := range gaps {
		bars, err := l.primary.GetKlines(ctx, instrument, agg, gap[0], gap[1])
		if err != nil {
			fetchErr = err
			continue
		}
		fetched = append(fetched, bars...)
	}

	merged := mergeBars(cached, fetched)

	if fetchErr != nil {
		if len(cached) == 0 && len(fetched) == 0 {
			return nil, &ErrDataGap{Instrument: instrument, Start: start, End: end, Cause: fetchErr}
		}
		l.logger.Warn("partial cache: venue fetch failed for part of the requested range, returning cached subset",
			"instrument", instrument, "aggregation", agg, "error", fetchErr)
	}

	if len(fetched) > 0 {
		if err := l.persist(instrument, agg, merged); err != nil {
			l.logger.Error("failed to persist merged bar cache", "instrument", instrument, "error", err)
		}
	}

	return sliceRange(merged, start, end), nil
}

// ListCatalog returns every cached series' index entry.
func (l *Layer) ListCatalog() ([]types.CacheIndexEntry, error) {
	return l.store.ListCacheIndex()
}

// DeleteCatalog removes one cached series (index row and backing file).
func (l *Layer) DeleteCatalog(instrument string, agg types.BarAggregation) error {
	entry, err := l.store.GetCacheIndex(instrument, agg)
	if err != nil {
		return fmt.Errorf("market: load cache index: %w", err)
	}
	if err := l.store.DeleteCacheIndex(instrument, agg); err != nil {
		return fmt.Errorf("market: delete cache index: %w", err)
	}
	if entry != nil && entry.FilePath != "" {
		if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("failed to remove cache file", "path", entry.FilePath, "error", err)
		}
	}
	return nil
}

func (l *Layer) readSeries(entry *types.CacheIndexEntry) ([]types.MarketBar, error) {
	raw, err := os.ReadFile(entry.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != entry.ContentHash {
		return nil, fmt.Errorf("content hash mismatch for %s", entry.FilePath)
	}
	var bars []types.MarketBar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("decode cache file: %w", err)
	}
	return bars, nil
}

// persist writes the merged series atomically (write-tmp, then rename, the
// same pattern the persistence layer uses for strategy source files) and
// updates the cache index row.
func (l *Layer) persist(instrument string, agg types.BarAggregation, bars []types.MarketBar) error {
	if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	raw, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encode bars: %w", err)
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	path := filepath.Join(l.dataDir, fmt.Sprintf("%s_%s.json", sanitize(instrument), agg))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write tmp cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}

	var start, end time.Time
	if len(bars) > 0 {
		start, end = bars[0].OpenTime, bars[len(bars)-1].OpenTime
	}
	return l.store.UpsertCacheIndex(types.CacheIndexEntry{
		Instrument:  instrument,
		Aggregation: agg,
		StartDate:   start,
		EndDate:     end,
		RecordCount: len(bars),
		FilePath:    path,
		ContentHash: hash,
		FetchedAt:   time.Now().UTC(),
	})
}

func sanitize(instrument string) string {
	out := make([]rune, 0, len(instrument))
	for _, r := range instrument {
		if r == '/' || r == '\\' || r == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// mergeBars combines two series, deduplicating by open-time (fresh wins
// over cached on conflict) and returning a sorted result.
func mergeBars(cached, fresh []types.MarketBar) []types.MarketBar {
	byOpen := make(map[int64]types.MarketBar, len(cached)+len(fresh))
	for _, b := range cached {
		byOpen[b.OpenTime.UnixNano()] = b
	}
	for _, b := range fresh {
		byOpen[b.OpenTime.UnixNano()] = b
	}
	out := make([]types.MarketBar, 0, len(byOpen))
	for _, b := range byOpen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}

func sliceRange(bars []types.MarketBar, start, end time.Time) []types.MarketBar {
	out := make([]types.MarketBar, 0, len(bars))
	for _, b := range bars {
		if (b.OpenTime.Equal(start) || b.OpenTime.After(start)) && (b.OpenTime.Equal(end) || b.OpenTime.Before(end)) {
			out = append(out, b)
		}
	}
	return out
}

// LiquidationPrice re-exports venue.LiquidationPrice for callers that only
// import the market package.
func LiquidationPrice(side types.Direction, entry float64, leverage int, mmr float64) float64 {
	return venue.LiquidationPrice(side, entry, leverage, mmr)
}
