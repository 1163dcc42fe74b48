package globe

import (
	"context"
	"image"
	"image/color"
	"sync"

	"waitlist/api/internal/store"
)

// TextureSource renders a slot texture. It must return a usable image even
// when it also returns an error.
type TextureSource interface {
	Texture(ctx context.Context, slot int, fill color.RGBA, name string, avatar store.Avatar) (*image.RGBA, error)
}

type pendingLoad struct {
	gen    uint64
	cancel context.CancelFunc
}

type loadResult struct {
	slot int
	gen  uint64
	img  *image.RGBA
	err  error
}

// textureLoader runs one cancellable load per slot. Only the result of the
// most recent request for a slot is delivered; older ones are dropped.
type textureLoader struct {
	source TextureSource
	ctx    context.Context
	stop   context.CancelFunc

	mu      sync.Mutex
	nextGen uint64
	pending map[int]pendingLoad
	done    []loadResult
	wg      sync.WaitGroup
}

func newTextureLoader(source TextureSource) *textureLoader {
	ctx, stop := context.WithCancel(context.Background())
	return &textureLoader{
		source:  source,
		ctx:     ctx,
		stop:    stop,
		pending: make(map[int]pendingLoad),
	}
}

func (l *textureLoader) start(slot int, fill color.RGBA, name string, avatar store.Avatar) {
	l.mu.Lock()
	if prev, ok := l.pending[slot]; ok {
		prev.cancel()
	}
	l.nextGen++
	gen := l.nextGen
	ctx, cancel := context.WithCancel(l.ctx)
	l.pending[slot] = pendingLoad{gen: gen, cancel: cancel}
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		img, err := l.source.Texture(ctx, slot, fill, name, avatar)
		if ctx.Err() != nil {
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.pending[slot]; ok && cur.gen == gen {
			l.done = append(l.done, loadResult{slot: slot, gen: gen, img: img, err: err})
		}
	}()
}

// cancel drops any load in flight for slot.
func (l *textureLoader) cancel(slot int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.pending[slot]; ok {
		prev.cancel()
		delete(l.pending, slot)
	}
	kept := l.done[:0]
	for _, r := range l.done {
		if r.slot != slot {
			kept = append(kept, r)
		}
	}
	l.done = kept
}

// drain returns finished loads that are still current.
func (l *textureLoader) drain() []loadResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []loadResult
	for _, r := range l.done {
		if cur, ok := l.pending[r.slot]; ok && cur.gen == r.gen {
			out = append(out, r)
			delete(l.pending, r.slot)
		}
	}
	l.done = l.done[:0]
	return out
}

// wait blocks until every started load has returned.
func (l *textureLoader) wait() {
	l.wg.Wait()
}

func (l *textureLoader) close() {
	l.stop()
	l.mu.Lock()
	for slot, p := range l.pending {
		p.cancel()
		delete(l.pending, slot)
	}
	l.done = nil
	l.mu.Unlock()
	l.wg.Wait()
}
