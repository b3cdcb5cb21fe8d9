package sync

import (
	"context"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// SyncState represents the current state of the refresh loop.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

// SyncStatus holds the state of the most recent refresh.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// refreshTimeout is the maximum time allowed for a single refresh.
const refreshTimeout = 30 * time.Second

// Poller runs feed refreshes in the background: on demand, and on an
// interval when one is configured. Results reach the UI through the
// Synchronizer's result channel.
type Poller struct {
	sync      *Synchronizer
	interval  time.Duration
	status    SyncStatus
	triggerCh chan struct{}
	stopCh    chan struct{}
	mu        gosync.Mutex
	running   bool
	done      chan struct{}

	// ctx bounds in-flight refreshes; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPoller creates a Poller. An interval of zero refreshes only on demand.
func NewPoller(s *Synchronizer, interval time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		sync:      s,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the refresh loop with an initial refresh and returns the
// command that waits for the first result.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return p.sync.WaitForNextResult()
}

// Stop halts the refresh loop, aborting a refresh in flight, and waits for
// it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	close(p.stopCh)
	p.mu.Unlock()

	<-p.done
}

// Refresh triggers an immediate refresh. Triggers while one is queued are
// coalesced.
func (p *Poller) Refresh() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the state of the latest refresh.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop() {
	defer close(p.done)

	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Do an initial refresh immediately
	p.refresh()

	for {
		select {
		case <-p.stopCh:
			return
		case <-tick:
			p.refresh()
		case <-p.triggerCh:
			p.refresh()
		}
	}
}

func (p *Poller) refresh() {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(p.ctx, refreshTimeout)
	defer cancel()

	msg := p.sync.refreshMsg(ctx)
	if msg.Error != nil {
		p.setStatus(SyncError, msg.Error)
		p.sync.logger.Warn("refresh failed", "error", msg.Error)
	} else {
		p.setStatus(SyncIdle, nil)
	}
	p.sync.publish(msg)
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}
