package risk

import (
	"sync"
	"time"
)

// StopTracker tracks the high/low water mark and stop-loss trigger state for
// one open position per user and symbol; ClosePosition reports whether the
// position closed via a triggered stop. The risk engine picks the stop-loss
// cooldown duration (spec §4.4) instead of the shorter normal cooldown when
// RiskContext.ClosedViaStopLoss is set.
type StopTracker struct {
	positions map[string]*trackedPosition
	mu        sync.RWMutex
}

type trackedPosition struct {
	userID        string
	symbol        string
	direction     string // "long" or "short"
	entryPrice    float64
	stopLoss      float64
	highWaterMark float64
	lowWaterMark  float64
	openedAt      time.Time
}

// NewStopTracker creates a tracker with no open positions.
func NewStopTracker() *StopTracker {
	return &StopTracker{positions: make(map[string]*trackedPosition)}
}

func key(userID, symbol string) string { return userID + ":" + symbol }

// OpenPosition begins tracking a new position.
func (st *StopTracker) OpenPosition(userID, symbol, direction string, entryPrice, stopLoss float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.positions[key(userID, symbol)] = &trackedPosition{
		userID:        userID,
		symbol:        symbol,
		direction:     direction,
		entryPrice:    entryPrice,
		stopLoss:      stopLoss,
		highWaterMark: entryPrice,
		lowWaterMark:  entryPrice,
		openedAt:      time.Now(),
	}
}

// ClosePosition stops tracking a position and reports whether the close
// price breached the recorded stop.
func (st *StopTracker) ClosePosition(userID, symbol string, closePrice float64) (triggeredStop bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	k := key(userID, symbol)
	pos, ok := st.positions[k]
	if !ok {
		return false
	}
	delete(st.positions, k)

	if pos.direction == "long" {
		return closePrice <= pos.stopLoss
	}
	return closePrice >= pos.stopLoss
}

// UpdatePrice folds a new mark price into the water marks for a tracked
// position. The stop level recorded at OpenPosition is not moved.
func (st *StopTracker) UpdatePrice(userID, symbol string, price float64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	pos, ok := st.positions[key(userID, symbol)]
	if !ok {
		return
	}
	if pos.direction == "long" && price > pos.highWaterMark {
		pos.highWaterMark = price
	} else if pos.direction == "short" && price < pos.lowWaterMark {
		pos.lowWaterMark = price
	}
}

// HasOpenPosition reports whether a position is currently tracked.
func (st *StopTracker) HasOpenPosition(userID, symbol string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.positions[key(userID, symbol)]
	return ok
}
