package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tts-cache/cachepath"
	"tts-cache/db"
)

// Recorder persists download outcomes. *db.Ledger implements it.
type Recorder interface {
	RecordDownloadOutcome(ctx context.Context, rec db.AssetRecord) error
}

// Summary counts the outcomes of a Pool run.
type Summary struct {
	Succeeded int64
	Failed    int64
}

// Pool runs a fixed number of download daemons over a Queue.
type Pool struct {
	engine  *Engine
	queue   *Queue
	ledger  Recorder
	workers int
	log     *zap.SugaredLogger
}

// NewPool creates a pool of workers daemons. At least one daemon runs.
func NewPool(engine *Engine, queue *Queue, ledger Recorder, workers int, log *zap.SugaredLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{engine: engine, queue: queue, ledger: ledger, workers: workers, log: log}
}

// Run starts the daemons and waits until the queue is closed and drained, ctx
// is cancelled, or recording an outcome fails. Failed downloads are counted,
// not returned.
func (p *Pool) Run(ctx context.Context) (Summary, error) {
	var succeeded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i + 1
		g.Go(func() error {
			return p.daemon(gctx, worker, &succeeded, &failed)
		})
	}
	err := g.Wait()
	return Summary{Succeeded: succeeded.Load(), Failed: failed.Load()}, err
}

func (p *Pool) daemon(ctx context.Context, worker int, succeeded, failed *atomic.Int64) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		req, ok := p.queue.Pull(ctx)
		if !ok {
			return nil
		}

		status, rec := p.engine.Fetch(ctx, req.URL, req.Trail)
		p.queue.Done(req.URL)
		if ctx.Err() != nil {
			return nil
		}

		if err := p.ledger.RecordDownloadOutcome(ctx, rec); err != nil {
			return fmt.Errorf("failed to record download of %s: %w", req.URL, err)
		}
		if status != "" {
			failed.Add(1)
			p.log.Warnw("Download failed", zap.Int("worker", worker), zap.String("url", req.URL), zap.String("status", status))
			continue
		}
		succeeded.Add(1)
		p.log.Infow("Downloaded asset", zap.Int("worker", worker), zap.String("url", req.URL),
			zap.String("path", filepath.Join(rec.Dir, cachepath.Recode(req.URL)+rec.Ext)), zap.Int64("size", rec.Size))
	}
}
