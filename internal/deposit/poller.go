package deposit

import (
	"context"
	"errors"
	"time"

	"chip-settlement/internal/store"

	"github.com/rs/zerolog/log"
)

// Watch registers address for deposit polling and starts its poller when
// the pipeline is running.
func (p *Pipeline) Watch(ctx context.Context, address string) (store.WatchedAddress, error) {
	w, err := p.repo.WatchAddress(ctx, address)
	if err != nil {
		return store.WatchedAddress{}, err
	}
	if _, err := p.repo.EnsureAccount(ctx, address); err != nil {
		return store.WatchedAddress{}, err
	}
	p.startPoller(w.Address, w.Cursor)
	return w, nil
}

func (p *Pipeline) Unwatch(ctx context.Context, address string) error {
	if err := p.repo.UnwatchAddress(ctx, address); err != nil {
		return err
	}
	p.stopPoller(address)
	return nil
}

// CleanupIdleWatches stops polling addresses that have seen no transfer
// since now-ttl.
func (p *Pipeline) CleanupIdleWatches(ctx context.Context, ttl time.Duration) ([]string, error) {
	idle, err := p.repo.DeactivateIdleWatches(ctx, p.now().Add(-ttl))
	if err != nil {
		return nil, err
	}
	for _, addr := range idle {
		p.stopPoller(addr)
		log.Info().Str("address", addr).Msg("stopped polling idle address")
	}
	return idle, nil
}

func (p *Pipeline) ActivePollers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pollers)
}

func (p *Pipeline) startPoller(address, cursor string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped || p.runCtx == nil {
		return
	}
	if _, ok := p.pollers[address]; ok {
		return
	}
	ctx, cancel := context.WithCancel(p.runCtx)
	p.pollers[address] = cancel
	activePollers.Set(float64(len(p.pollers)))
	p.pollerWG.Add(1)
	go func() {
		defer p.pollerWG.Done()
		p.pollLoop(ctx, address, cursor)
	}()
}

func (p *Pipeline) stopPoller(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.pollers[address]; ok {
		cancel()
		delete(p.pollers, address)
		activePollers.Set(float64(len(p.pollers)))
	}
}

func (p *Pipeline) pollLoop(ctx context.Context, address, cursor string) {
	log.Info().Str("address", address).Str("cursor", cursor).Msg("deposit poller started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		next, err := p.PollAddress(ctx, address, cursor)
		if err != nil && ctx.Err() == nil {
			pollErrors.Inc()
			log.Warn().Err(err).Str("address", address).Msg("deposit poll failed")
		}
		cursor = next
		select {
		case <-ctx.Done():
			log.Info().Str("address", address).Msg("deposit poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollAddress reads transfers newer than cursor, records each one and
// persists the new cursor. On error it returns the cursor it was given so
// the next poll reads the same range again.
func (p *Pipeline) PollAddress(ctx context.Context, address, cursor string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "deposit.poll")
	defer span.End()
	page, err := p.observer.PollTransfers(ctx, address, cursor)
	if err != nil {
		return cursor, err
	}
	saw := false
	for _, t := range page.Transfers {
		created, err := p.detect(ctx, address, t)
		if err != nil {
			return cursor, err
		}
		saw = saw || created
	}
	if page.NextCursor != "" {
		cursor = page.NextCursor
	}
	if err := p.repo.SaveCursor(ctx, address, cursor, saw); err != nil && !errors.Is(err, store.ErrNotFound) {
		return cursor, err
	}
	return cursor, nil
}
