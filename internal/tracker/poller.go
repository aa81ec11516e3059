package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "icanban/internal/log"
)

// FrequencyDisabled turns the autosave loop off.
const FrequencyDisabled = -1

// Sweeper is what the poller drives; *Manager implements it.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

var _ Sweeper = (*Manager)(nil)

// Poller runs the autosave sweep on a fixed interval. Runs never overlap:
// a tick that fires while the previous sweep is still going is skipped.
type Poller struct {
	sweeper Sweeper
	cron    *cron.Cron

	mu          sync.Mutex
	ctx         context.Context
	entry       cron.EntryID
	frequencyMs int
}

func NewPoller(s Sweeper) *Poller {
	logger := appLog.CronLogger()
	return &Poller{
		sweeper: s,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:         context.Background(),
		frequencyMs: FrequencyDisabled,
	}
}

// Start starts the scheduler; sweeps run with ctx.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	p.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// SetFrequency replaces the scheduled sweep. ms <= 0 disables autosave;
// anything under a second runs every second.
func (p *Poller) SetFrequency(ms int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.entry != 0 {
		p.cron.Remove(p.entry)
		p.entry = 0
	}
	if ms <= 0 {
		p.frequencyMs = FrequencyDisabled
		appLog.Info("autosave disabled")
		return
	}
	p.frequencyMs = ms
	p.entry = p.cron.Schedule(cron.Every(time.Duration(ms)*time.Millisecond), cron.FuncJob(p.tick))
	appLog.Info("autosave scheduled", "every_ms", ms)
}

// Frequency is the current interval in milliseconds, or FrequencyDisabled.
func (p *Poller) Frequency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frequencyMs
}

func (p *Poller) tick() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if err := p.sweeper.Sweep(ctx); err != nil {
		appLog.Error("autosave sweep failed, retrying next tick", err)
	}
}
