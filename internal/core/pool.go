package core

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/velored/meetmedia/internal/media"
)

// WorkerPool owns a fixed set of media workers, created once at startup and
// handed out round-robin. The pool does not replace a dead worker; the
// onDied handler installed by the caller decides what a death means for the
// process.
type WorkerPool struct {
	workers []media.Worker
	cursor  atomic.Uint32
}

func NewWorkerPool(ctx context.Context, engine media.Engine, size int, onDied func(error)) (*WorkerPool, error) {
	if size < 1 {
		size = 1
	}
	p := &WorkerPool{}
	for i := 0; i < size; i++ {
		w, err := engine.NewWorker(ctx)
		if err != nil {
			p.Close()
			return nil, err
		}
		id := w.ID()
		w.OnDied(func(err error) {
			log.Error().Str("module", "core.pool").Str("worker", id).Err(err).Msg("media worker died")
			if onDied != nil {
				onDied(err)
			}
		})
		p.workers = append(p.workers, w)
	}
	log.Info().Str("module", "core.pool").Int("size", len(p.workers)).Msg("worker pool ready")
	return p, nil
}

// Next returns the next worker, wrapping around the pool.
func (p *WorkerPool) Next() media.Worker {
	i := p.cursor.Inc() - 1
	return p.workers[int(i)%len(p.workers)]
}

func (p *WorkerPool) Size() int { return len(p.workers) }

func (p *WorkerPool) Close() {
	for _, w := range p.workers {
		w.Close()
	}
}
