package engine

import (
	"github.com/sugawarayuuta/sonnet"

	"github.com/djdv/go-streamsynth/cluster"
)

// Stats is a snapshot of the engine, taken after every driver step.
type Stats struct {
	Timer        uint64        `json:"timer"`
	Tick         uint64        `json:"tick"`
	Direness     int           `json:"direness"`
	Passes       uint64        `json:"passes"`
	Culls        uint64        `json:"culls"`
	FastReleases uint64        `json:"fast_releases"`
	LastWindow   int           `json:"last_window"`
	Voices       int           `json:"voices"`
	Clips        int           `json:"clips"`
	Pending      int           `json:"pending"`
	Underruns    uint64        `json:"underruns"`
	Recorded     uint64        `json:"recorded"`
	Dropped      uint64        `json:"dropped"`
	Arena        cluster.Stats `json:"arena"`
}

func (e *Engine) publish() {
	var (
		st    = e.state
		stats = Stats{
			Timer:        st.Timer,
			Tick:         e.clock.Tick(),
			Direness:     st.Direness,
			Passes:       st.Passes,
			Culls:        st.Culls,
			FastReleases: st.FastReleases,
			LastWindow:   st.LastWindow,
			Voices:       e.pool.Active(),
			Clips:        e.clips.Sounding(),
			Pending:      e.scheduler.Pending(),
			Arena:        e.arena.Stats(),
		}
	)
	if counter, ok := e.transport.(interface{ Underruns() uint64 }); ok {
		stats.Underruns = counter.Underruns()
	}
	for _, r := range e.recorders {
		stats.Recorded += r.Frames()
		stats.Dropped += r.Dropped()
	}
	e.statsMu.Lock()
	e.snapshot = stats
	e.statsMu.Unlock()
}

// Stats returns the latest snapshot. It is safe to call from any goroutine.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.snapshot
}

// StatsJSON encodes the latest snapshot.
func (e *Engine) StatsJSON() ([]byte, error) {
	return sonnet.Marshal(e.Stats())
}
