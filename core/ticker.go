package core

import "time"

// TickSource paces the client run loop. Injecting it keeps the
// reconstruction and command sampling schedule testable without real time
// passing.
type TickSource interface {
	Ticks() <-chan time.Time
	Stop()
}

type wallTicker struct {
	t *time.Ticker
}

// NewWallTicker returns a TickSource backed by a time.Ticker at the given
// rate.
func NewWallTicker(hz int) TickSource {
	if hz <= 0 {
		hz = 60
	}
	return &wallTicker{t: time.NewTicker(time.Second / time.Duration(hz))}
}

func (w *wallTicker) Ticks() <-chan time.Time { return w.t.C }

func (w *wallTicker) Stop() { w.t.Stop() }

// ManualTicker drives ticks explicitly.
type ManualTicker struct {
	ch chan time.Time
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time, 16)}
}

func (m *ManualTicker) Tick(now time.Time) { m.ch <- now }

func (m *ManualTicker) Ticks() <-chan time.Time { return m.ch }

func (m *ManualTicker) Stop() {}
