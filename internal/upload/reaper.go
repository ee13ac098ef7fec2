package upload

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// startupSweepDelay is how long after process start the first sweep runs.
const startupSweepDelay = 10 * time.Second

// Reaper evicts sessions idle past the staleness threshold and reclaims
// their staging storage. Age is the only trigger: a young session is never
// touched, however anomalous its state looks. The store-level TTL remains
// in place as an independent safety net.
type Reaper struct {
	store      Store
	staleAfter time.Duration
	interval   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logrus.Entry
}

func NewReaper(parent context.Context, store Store, staleAfter, interval time.Duration) *Reaper {
	ctx, cancel := context.WithCancel(parent)
	return &Reaper{
		store:      store,
		staleAfter: staleAfter,
		interval:   interval,
		ctx:        ctx,
		cancel:     cancel,
		log:        logrus.WithField("component", "upload-reaper"),
	}
}

// Start launches the sweep loop: once shortly after process start, then on
// the fixed interval, until Shutdown.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(startupSweepDelay):
			r.runSweep()
		}

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.runSweep()
			}
		}
	}()
}

func (r *Reaper) runSweep() {
	n, err := r.Sweep(r.ctx)
	if err != nil {
		r.log.Errorf("sweep failed: %v", err)
		return
	}
	if n > 0 {
		r.log.WithField("cleaned", n).Info("stale sessions reaped")
	}
}

// Sweep removes every session whose last activity predates the staleness
// threshold, along with its staging directory, and returns the count
// removed. It is idempotent and doubles as the manual-trigger entry point.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	ids, err := r.store.ListIDs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-r.staleAfter)
	cleaned := 0
	for _, id := range ids {
		sess, err := r.store.Get(ctx, id)
		if err != nil {
			continue // record vanished or is unreadable; TTL will get it
		}
		if sess.LastActivityAt.After(cutoff) {
			continue
		}

		// Best effort: the directory may already be gone.
		if err := os.RemoveAll(sess.TempDir); err != nil {
			r.log.WithField("upload_id", id).Warnf("staging cleanup failed: %v", err)
		}
		r.store.ReleaseTarget(ctx, sess.TargetPath)
		if err := r.store.Delete(ctx, id); err != nil {
			r.log.WithField("upload_id", id).Warnf("record cleanup failed: %v", err)
			continue
		}
		cleaned++

		r.log.WithFields(logrus.Fields{
			"upload_id":     id,
			"last_activity": sess.LastActivityAt,
			"status":        sess.Status,
		}).Info("stale session evicted")
	}
	return cleaned, nil
}

// Shutdown stops the sweep loop, waiting up to the context deadline.
func (r *Reaper) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
