package marketdata

import (
	"context"
	"time"

	"github.com/guyghost/quantbt/internal/logger"
	"github.com/guyghost/quantbt/internal/market"
	"github.com/guyghost/quantbt/internal/store"
)

// Archive is a local bar store that can be filled from a remote source
type Archive interface {
	store.BarSource
	store.BarWriter
}

var _ store.BarSource = (*ReadThrough)(nil)

// ReadThrough serves bars from a local archive and falls back to a remote
// source when the archive has nothing for the request. Fetched bars are
// written back so the next run reads them locally.
type ReadThrough struct {
	archive Archive
	remote  store.BarSource
	log     *logger.Logger
}

// NewReadThrough creates a read-through source over archive and remote
func NewReadThrough(archive Archive, remote store.BarSource) *ReadThrough {
	return &ReadThrough{
		archive: archive,
		remote:  remote,
		log:     logger.Component("bar-cache"),
	}
}

// ReadBars returns archived bars, or remote bars after archiving them. A
// failed write-back is logged and the fetched bars are still returned.
func (c *ReadThrough) ReadBars(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	bars, err := c.archive.ReadBars(ctx, symbol, tf, start, end)
	if err == nil && len(bars) > 0 {
		return bars, nil
	}
	if err != nil {
		c.log.WithError(err).Warn("Archive read failed, using remote", "symbol", symbol, "timeframe", tf)
	}

	bars, err = c.remote.ReadBars(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return bars, nil
	}

	if err := c.archive.WriteBars(ctx, symbol, tf, bars); err != nil {
		c.log.WithError(err).Warn("Archive write failed", "symbol", symbol, "timeframe", tf)
	} else {
		c.log.Debug("Archived remote bars", "symbol", symbol, "timeframe", tf, "bars", len(bars))
	}
	return bars, nil
}
