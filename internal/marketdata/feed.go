// Package marketdata defines the bar-data collaborator contract the
// decision loop polls every cycle (spec §6). The core never implements a
// concrete exchange feed itself; an operator wires a Source backed by
// whichever market data vendor the deployment uses.
package marketdata

import (
	"context"
	"errors"
	"time"

	"tradingcore/internal/witness"
)

// ErrSourceNotConfigured is returned by Source implementations that have no
// upstream feed wired yet.
var ErrSourceNotConfigured = errors.New("marketdata: no source configured")

// Source returns an ordered, gap-free sequence of bars for symbol between
// since and until.
type Source interface {
	GetBars(ctx context.Context, symbol, interval string, since, until time.Time) ([]witness.Bar, error)
}

// NullSource is a Source that always reports it isn't configured. The
// decision loop treats that as a DataNotFound error and skips the cycle
// for that symbol (spec §7), so wiring NullSource in is safe: it never
// panics, it just never produces a claim.
type NullSource struct{}

func (NullSource) GetBars(ctx context.Context, symbol, interval string, since, until time.Time) ([]witness.Bar, error) {
	return nil, ErrSourceNotConfigured
}
