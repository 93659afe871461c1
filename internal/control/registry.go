// Package control implements the session command registry: the single
// channel through which out-of-band pause/resume requests reach an in-flight
// agent loop.
package control

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Command is an out-of-band instruction for a running agent loop.
type Command string

const (
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
)

var (
	// ErrSessionActive is returned when registering a session id that
	// already has a live loop. Duplicate loops are rejected, not replaced.
	ErrSessionActive = errors.New("session already has an active agent loop")

	// ErrUnknownSession is returned for commands addressed to a session
	// with no registered loop.
	ErrUnknownSession = errors.New("no active agent loop for session")

	// ErrQueueFull is returned when a session's command queue is full.
	ErrQueueFull = errors.New("session command queue full")
)

const commandQueueSize = 16

// Registry maps session ids to the control state of their in-flight loop.
// One producer (the control-plane HTTP handler) and one consumer (the loop)
// interact with each entry concurrently; commands travel through a queue so
// pause/resume pairs arriving close together apply in arrival order.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. The gateway owns one instance and
// injects it into the loop and the control-plane handlers.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register claims a session id for a new loop. It fails with
// ErrSessionActive if a loop already holds the id.
func (r *Registry) Register(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, ErrSessionActive
	}
	s := &Session{
		id:       id,
		commands: make(chan Command, commandQueueSize),
	}
	r.sessions[id] = s
	return s, nil
}

// Unregister releases the session id. Safe to call for unknown ids; the
// loop's cleanup path calls it unconditionally.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// SendCommand enqueues a command for the session's loop.
func (r *Registry) SendCommand(id string, cmd Command) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	select {
	case s.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// IsPaused reports whether the session's loop is currently paused. Unknown
// sessions report false.
func (r *Registry) IsPaused(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	return ok && s.Paused()
}

// Active reports whether a loop currently holds the session id.
func (r *Registry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Session is a registry entry: the control handle for one in-flight loop.
// The loop is the sole consumer of the command queue and the sole writer of
// the paused flag.
type Session struct {
	id       string
	commands chan Command
	paused   atomic.Bool
}

// ID returns the session id this entry controls.
func (s *Session) ID() string { return s.id }

// Poll waits up to timeout for the next command. The bounded wait is what
// lets the loop interleave cancellation checks while paused; it must never
// block indefinitely on the queue.
func (s *Session) Poll(timeout time.Duration) (Command, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case cmd := <-s.commands:
		s.apply(cmd)
		return cmd, true
	case <-timer.C:
		return "", false
	}
}

// Drain applies all queued commands without waiting and returns the number
// applied. The loop calls it at its checkpoints so a pause followed quickly
// by a resume lands in order rather than racing on a shared flag.
func (s *Session) Drain() int {
	n := 0
	for {
		select {
		case cmd := <-s.commands:
			s.apply(cmd)
			n++
		default:
			return n
		}
	}
}

// Pause marks the session paused. Only the owning loop calls this, when an
// action requests a safety pause.
func (s *Session) Pause() { s.paused.Store(true) }

// Paused reports the current paused state.
func (s *Session) Paused() bool { return s.paused.Load() }

func (s *Session) apply(cmd Command) {
	switch cmd {
	case CommandPause:
		s.paused.Store(true)
	case CommandResume:
		s.paused.Store(false)
	}
}
