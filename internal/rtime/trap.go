package rtime

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Signal names the traps a TrapTable can hold handlers for, including the
// two pseudo-signals EXIT and ERR that never correspond to an OS signal
// disposition.
type Signal string

const (
	SigINT  Signal = "INT"
	SigTERM Signal = "TERM"
	SigHUP  Signal = "HUP"
	SigQUIT Signal = "QUIT"
	SigUSR1 Signal = "USR1"
	SigUSR2 Signal = "USR2"
	SigCHLD Signal = "CHLD"
	SigEXIT Signal = "EXIT" // pseudo: fires once at worker shutdown
	SigERR  Signal = "ERR"  // pseudo: fires on non-guarded command failure
)

// osSignals maps the real (non-pseudo) signals to their syscall values.
var osSignals = map[Signal]os.Signal{
	SigINT:  syscall.SIGINT,
	SigTERM: syscall.SIGTERM,
	SigHUP:  syscall.SIGHUP,
	SigQUIT: syscall.SIGQUIT,
	SigUSR1: syscall.SIGUSR1,
	SigUSR2: syscall.SIGUSR2,
	SigCHLD: syscall.SIGCHLD,
}

// ActionKind distinguishes the three trap dispositions.
type ActionKind int

const (
	ActionDefault ActionKind = iota
	ActionIgnore
	ActionRun
)

// Action is a TrapTable value: either the OS default, an ignore, or a
// shell snippet to run when the signal is noticed at a safe point.
type Action struct {
	Kind   ActionKind
	Script string
}

// TrapTable maps Signal to Action and mirrors the mapping onto OS signal
// dispositions for real signals. A background goroutine forwards delivered
// OS signals into atomic pending flags; the Executor drains those flags
// between statements (§4.4.6) rather than running trap scripts from inside
// the signal handler itself.
type TrapTable struct {
	mu      sync.Mutex
	table   map[Signal]Action
	pending map[Signal]*int32

	sigCh     chan os.Signal
	installed []os.Signal
	done      chan struct{}
}

// NewTrapTable creates an empty table with no signals disposed.
func NewTrapTable() *TrapTable {
	t := &TrapTable{
		table:   make(map[Signal]Action),
		pending: make(map[Signal]*int32),
		sigCh:   make(chan os.Signal, 16),
		done:    make(chan struct{}),
	}
	for sig := range osSignals {
		f := new(int32)
		t.pending[sig] = f
	}
	go t.loop()
	return t
}

func (t *TrapTable) loop() {
	for {
		select {
		case s := <-t.sigCh:
			sig := fromOSSignal(s)
			if sig == "" {
				continue
			}
			if f, ok := t.pending[sig]; ok {
				atomic.StoreInt32(f, 1)
			}
		case <-t.done:
			return
		}
	}
}

func fromOSSignal(s os.Signal) Signal {
	for sig, osSig := range osSignals {
		if osSig == s {
			return sig
		}
	}
	return ""
}

// Set installs action for sig, updating the OS disposition for real
// signals. Setting the same action twice is idempotent (P10).
func (t *TrapTable) Set(sig Signal, action Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table[sig] = action
	if _, real := osSignals[sig]; !real {
		return
	}
	switch action.Kind {
	case ActionIgnore:
		signal.Ignore(osSignals[sig])
	case ActionDefault:
		signal.Reset(osSignals[sig])
	case ActionRun:
		signal.Notify(t.sigCh, osSignals[sig])
	}
}

// Get returns the current action for sig; the zero value is ActionDefault.
func (t *TrapTable) Get(sig Signal) Action {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.table[sig]
}

// Clear removes any handler for sig and restores the OS default. Clearing
// an already-default signal is a no-op (P10).
func (t *TrapTable) Clear(sig Signal) {
	t.mu.Lock()
	_, had := t.table[sig]
	delete(t.table, sig)
	t.mu.Unlock()
	if !had {
		return
	}
	if _, real := osSignals[sig]; real {
		signal.Reset(osSignals[sig])
	}
}

// Reset clears every trap, restoring OS defaults. Called at SessionInit
// per the Open Questions resolution in SPEC_FULL.md.
func (t *TrapTable) Reset() {
	t.mu.Lock()
	sigs := make([]Signal, 0, len(t.table))
	for sig := range t.table {
		sigs = append(sigs, sig)
	}
	t.mu.Unlock()
	for _, sig := range sigs {
		t.Clear(sig)
	}
}

// Pending drains and returns the signals that arrived since the last call,
// in an unspecified order. The Executor calls this between statements.
func (t *TrapTable) Pending() []Signal {
	var fired []Signal
	for sig, f := range t.pending {
		if atomic.CompareAndSwapInt32(f, 1, 0) {
			fired = append(fired, sig)
		}
	}
	return fired
}

// Close stops the background forwarding goroutine. Safe to call once per
// TrapTable, at worker shutdown.
func (t *TrapTable) Close() {
	close(t.done)
	signal.Stop(t.sigCh)
}
