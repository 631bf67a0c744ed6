package drive

import (
	"sync"
	"time"

	"github.com/servoctl/servolink/catalog"
)

const (
	defaultPollInterval = time.Second
	defaultMaxBackoff   = 30 * time.Second
	// reconnectAfter is how many consecutive failed sweeps trigger the
	// Reconnect hook.
	reconnectAfter = 3
)

// Poller periodically sweeps a drive's status registers and reports
// each complete sweep through OnUpdate. Failed sweeps back off
// exponentially up to MaxBackoff; after reconnectAfter consecutive
// failures the Reconnect hook is invoked to reopen the line.
type Poller struct {
	Drive   *Drive
	Entries []catalog.Status
	// FunctionCode selects the register bank for the sweep, 0x03 or
	// 0x04 depending on the drive model.
	FunctionCode byte
	Interval     time.Duration
	MaxBackoff   time.Duration
	// Reconnect reopens the underlying line. Optional.
	Reconnect func() error
	// OnUpdate receives the merged register values of each sweep that
	// produced at least one value. Called from the poller goroutine.
	OnUpdate func(map[uint16]uint16)

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Start launches the polling goroutine. Subsequent calls are no-ops.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		go p.run()
	})
}

// Stop halts polling and waits for the in-flight sweep to finish.
// Safe to call more than once, but only after Start.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Poller) run() {
	defer close(p.done)

	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxBackoff := p.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	wait := interval
	failures := 0
	for {
		select {
		case <-p.stop:
			return
		case <-time.After(wait):
		}

		values, err := p.Drive.ReadStatusBatch(p.Entries, p.FunctionCode)
		if len(values) > 0 && p.OnUpdate != nil {
			p.OnUpdate(values)
		}
		if err == nil {
			failures = 0
			wait = interval
			continue
		}

		failures++
		p.Drive.log.WithError(err).WithField("failures", failures).Warn("status sweep failed")
		if failures%reconnectAfter == 0 && p.Reconnect != nil {
			if rerr := p.Reconnect(); rerr != nil {
				p.Drive.log.WithError(rerr).Warn("reconnect failed")
			} else {
				p.Drive.log.Info("line reconnected")
			}
		}
		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}
