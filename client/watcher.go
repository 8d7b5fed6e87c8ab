package client

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// target is what a watcher follows. Feature-less targets are used by
// SubjectTracker.
type target struct {
	subjectID   string
	featureSlug string
	perFeature  bool
}

func (t target) complete() bool {
	return t.subjectID != "" && (!t.perFeature || t.featureSlug != "")
}

func (t target) String() string { return t.subjectID + "/" + t.featureSlug }

// snapshot is a watcher's state at one instant.
type snapshot[T any] struct {
	key       target
	data      T
	hasData   bool
	loading   bool
	err       error
	updatedAt time.Time
}

// watcher holds the fetch, stale-guard and refresh-loop machinery shared by
// the trackers.
//
// Every request (fetch or mutation) takes a sequence number when it starts.
// A response is applied only if its sequence is still the latest and the
// target has not changed, so a slow early response never overwrites a
// faster later one.
//
// Refreshes are coalesced per target and generation. Every retarget starts a
// new generation, so a refresh issued after a retarget never joins a flight
// whose result the retarget already invalidated.
type watcher[T any] struct {
	opts  options
	fetch func(ctx context.Context, key target) (T, error)
	clone func(T) T

	mu     sync.Mutex
	state  snapshot[T]
	seq    uint64
	gen    uint64
	closed bool

	group singleflight.Group

	// loopMu serializes starting and stopping the refresh loop so at most
	// one loop goroutine exists.
	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func newWatcher[T any](opts options, fetch func(context.Context, target) (T, error), clone func(T) T) *watcher[T] {
	return &watcher[T]{
		opts:  opts,
		fetch: fetch,
		clone: clone,
	}
}

// retarget switches to key, drops the previous data and restarts the loop.
// It returns once the initial fetch (if any) has finished.
func (w *watcher[T]) retarget(ctx context.Context, key target) error {
	w.loopMu.Lock()
	w.stopLoop()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.loopMu.Unlock()
		return ErrClosed
	}
	w.seq++
	w.gen++
	w.state = snapshot[T]{key: key}
	w.mu.Unlock()

	if w.opts.autoRefresh && key.complete() {
		w.startLoop()
	}
	w.loopMu.Unlock()

	if !key.complete() {
		return nil
	}
	return w.refresh(ctx)
}

// refresh fetches the current target. Concurrent refreshes of one target
// share a single request.
func (w *watcher[T]) refresh(ctx context.Context) error {
	name, fn, err := w.flight(ctx)
	if fn == nil {
		return err
	}
	_, err, _ = w.group.Do(name, fn)
	return err
}

// refreshInLoop is refresh for the loop goroutine. The request runs on its
// own goroutine, so stopping the loop never waits on a fetch or on the
// onChange callback.
func (w *watcher[T]) refreshInLoop(ctx context.Context) error {
	name, fn, err := w.flight(ctx)
	if fn == nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-w.group.DoChan(name, fn):
		return res.Err
	}
}

// flight returns the singleflight key and request for the current target.
// fn is nil when there is nothing to fetch.
func (w *watcher[T]) flight(ctx context.Context) (string, func() (any, error), error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return "", nil, ErrClosed
	}
	key, gen := w.state.key, w.gen
	w.mu.Unlock()

	if !key.complete() {
		return "", nil, nil
	}

	fn := func() (any, error) {
		seq, ok := w.begin(key)
		if !ok {
			return nil, nil
		}
		v, err := w.fetch(ctx, key)
		w.finish(key, seq, v, err)
		return nil, err
	}
	return strconv.FormatUint(gen, 10) + "/" + key.String(), fn, nil
}

// mutate runs fn against the current target on a context detached from the
// caller's cancellation. Failures keep the last good data, set the error
// and go to the notifier.
func (w *watcher[T]) mutate(ctx context.Context, op, message string, fn func(ctx context.Context, key target) (T, error)) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	key := w.state.key
	w.mu.Unlock()

	if !key.complete() {
		return ErrNoTarget
	}

	seq, _ := w.begin(key)
	v, err := fn(context.WithoutCancel(ctx), key)
	w.finish(key, seq, v, err)

	if err != nil {
		w.opts.logger.Warn("usage mutation failed",
			"op", op,
			"subject_id", key.subjectID,
			"feature", key.featureSlug,
			"error", err,
		)
		if w.opts.notifier != nil {
			w.opts.notifier.Notify(Notification{
				Op:          op,
				SubjectID:   key.subjectID,
				FeatureSlug: key.featureSlug,
				Message:     message,
				Err:         err,
			})
		}
	}
	return err
}

// begin registers a request for key and returns its sequence number.
func (w *watcher[T]) begin(key target) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.state.key != key {
		return 0, false
	}
	w.seq++
	w.state.loading = true
	return w.seq, true
}

// finish applies a response if it is still the latest for the target.
func (w *watcher[T]) finish(key target, seq uint64, v T, err error) {
	w.mu.Lock()
	if w.closed || w.state.key != key || w.seq != seq {
		w.mu.Unlock()
		w.opts.logger.Debug("discarding stale usage response",
			"subject_id", key.subjectID,
			"feature", key.featureSlug,
		)
		return
	}

	w.state.loading = false
	if err != nil {
		w.state.err = err
	} else {
		w.state.data = v
		w.state.hasData = true
		w.state.err = nil
		w.state.updatedAt = time.Now()
	}
	w.mu.Unlock()

	if w.opts.onChange != nil {
		w.opts.onChange()
	}
}

// snapshot returns a copy of the current state.
func (w *watcher[T]) snapshot() snapshot[T] {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.state
	if s.hasData {
		s.data = w.clone(s.data)
	}
	return s
}

func (w *watcher[T]) close() {
	w.loopMu.Lock()
	defer w.loopMu.Unlock()

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.stopLoop()
}

// startLoop must be called with loopMu held.
func (w *watcher[T]) startLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.loopCancel = cancel
	w.loopDone = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(w.opts.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rctx, rcancel := context.WithTimeout(ctx, w.opts.interval)
				if err := w.refreshInLoop(rctx); err != nil && ctx.Err() == nil {
					w.opts.logger.Debug("usage auto-refresh failed", "error", err)
				}
				rcancel()
			}
		}
	}()
}

// stopLoop must be called with loopMu held.
func (w *watcher[T]) stopLoop() {
	if w.loopCancel == nil {
		return
	}
	w.loopCancel()
	<-w.loopDone
	w.loopCancel = nil
	w.loopDone = nil
}

// running reports whether a refresh loop is active.
func (w *watcher[T]) running() bool {
	w.loopMu.Lock()
	defer w.loopMu.Unlock()
	return w.loopCancel != nil
}
