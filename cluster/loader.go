package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/djdv/go-streamsynth"
	"github.com/djdv/go-streamsynth/storage"
)

// Loader populates enqueued clusters from storage.
// It must only run in the idle context, never during a render pass.
type Loader struct {
	arena  *Arena
	store  storage.Reader
	logger *slog.Logger
}

// NewLoader binds arena's load queue to store.
// A nil logger discards messages.
func NewLoader(arena *Arena, store storage.Reader, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		arena:  arena,
		store:  store,
		logger: logger,
	}
}

// LoadAnyEnqueued loads up to maxCount clusters, most urgent first.
// Each load is independent: a failed read leaves its cluster empty
// and is reported in the joined error, but does not stop the others.
// If yield is not nil it is called after every load, giving the render
// context a chance to run while storage is busy.
// Cancelling ctx stops the loop with an error wrapping [streamsynth.ErrAborted].
func (l *Loader) LoadAnyEnqueued(ctx context.Context, maxCount int, yield func()) (int, error) {
	var (
		loaded int
		errs   []error
	)
	for attempts := 0; attempts < maxCount; attempts++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", streamsynth.ErrAborted, err))
			break
		}
		h, ok := l.arena.loads.GrabHead()
		if !ok {
			break
		}
		if err := l.load(ctx, h); err != nil {
			errs = append(errs, err)
		} else {
			loaded++
		}
		if yield != nil {
			yield()
		}
	}
	return loaded, errors.Join(errs...)
}

func (l *Loader) load(ctx context.Context, h Handle) error {
	a := l.arena
	s, ok := a.lookup(h)
	if !ok {
		return nil
	}
	// Hold a reason so the cluster can't be stolen mid-read.
	if err := a.AddReason(h); err != nil {
		return err
	}
	defer a.RemoveReason(h, "loader")
	s.state = LoadInProgress
	var (
		origin = s.origin
		buf    = s.data[:origin.Length]
		err    = l.store.ReadBlock(ctx, origin.File, origin.Offset, buf)
	)
	if err != nil {
		s.state = LoadEmpty
		a.counters.loadFailures++
		l.logger.Warn("cluster load failed",
			"cluster", h.String(),
			"file", origin.File,
			"offset", origin.Offset,
			"error", err)
		return fmt.Errorf("load %v: %w", h, err)
	}
	s.state = Loaded
	s.length = origin.Length
	a.counters.loads++
	return nil
}
