package libroutine

import (
	"context"
	"log"
	"sync"
	"time"
)

// Pool provides a centralized way to manage and run keyed background routines.
// It ensures that for any given key, only one instance of the associated
// routine's loop is active at a time. Access to the Pool is done via the
// singleton instance returned by GetPool.
type Pool struct {
	managers   map[string]*Routine
	loops      map[string]bool
	triggerChs map[string]chan struct{}
	mu         sync.Mutex
}

var (
	poolInstance *Pool
	poolOnce     sync.Once
)

// GetPool returns the singleton instance of the Pool.
func GetPool() *Pool {
	poolOnce.Do(func() {
		poolInstance = &Pool{
			managers:   make(map[string]*Routine),
			loops:      make(map[string]bool),
			triggerChs: make(map[string]chan struct{}),
		}
	})
	return poolInstance
}

// LoopConfig describes a managed background loop.
type LoopConfig struct {
	// Key is a unique identifier for this routine, used to prevent duplicates.
	Key string
	// Threshold is the number of consecutive failures before the breaker opens.
	Threshold int
	// ResetTimeout is how long the breaker stays open before a half-open probe.
	ResetTimeout time.Duration
	// Interval is the pause between executions while the circuit is closed.
	Interval time.Duration
	// Operation is the function executed each cycle.
	Operation func(ctx context.Context) error
}

// StartLoop initiates and manages a background loop for the task identified by
// cfg.Key. If a loop for the key is already running, this call does nothing.
// The loop respects ctx for cancellation and terminates gracefully when it is done.
func (p *Pool) StartLoop(ctx context.Context, cfg *LoopConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.managers[cfg.Key]; !exists {
		p.managers[cfg.Key] = NewRoutine(cfg.Threshold, cfg.ResetTimeout)
	}

	if p.loops[cfg.Key] {
		return
	}

	triggerChan := make(chan struct{}, 1)
	p.triggerChs[cfg.Key] = triggerChan
	p.loops[cfg.Key] = true

	go func() {
		log.Printf("Loop started for key: %s", cfg.Key)
		p.managers[cfg.Key].Loop(ctx, cfg.Interval, triggerChan, cfg.Operation, func(err error) {
			if err != nil {
				log.Printf("Error in loop for key %s: %v", cfg.Key, err)
			}
		})
		p.mu.Lock()
		delete(p.loops, cfg.Key)
		delete(p.triggerChs, cfg.Key)
		p.mu.Unlock()
		log.Printf("Loop stopped for key: %s", cfg.Key)
	}()
}

// IsLoopActive reports whether a loop for the key is currently active.
// This is primarily intended for testing or monitoring purposes.
func (p *Pool) IsLoopActive(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loops[key]
}

// ForceUpdate triggers an immediate execution attempt for the loop associated
// with the key, bypassing the regular interval timer. If the loop's previous
// run failed, the attempt still waits one interval. If the loop's breaker is
// Open the trigger is still blocked until it transitions to HalfOpen. If no
// loop is active for the key, or an update is already pending, the call has no effect.
func (p *Pool) ForceUpdate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if triggerChan, ok := p.triggerChs[key]; ok {
		select {
		case triggerChan <- struct{}{}:
		default:
		}
	}
}

// GetManager exposes the Routine associated with a key for testing.
func (p *Pool) GetManager(key string) *Routine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.managers[key]
}

// ResetRoutine forces the circuit breaker associated with the given key into
// the Closed state, resetting any tracked failures. If no routine exists for
// the key, this function does nothing.
func (p *Pool) ResetRoutine(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if manager, exists := p.managers[key]; exists {
		manager.ForceClose()
	}
}
