package control

import (
	"sync"
	"time"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker is a minimal per-error-class breaker guarding the update
// polling loop.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	mu          sync.Mutex
	state       CircuitState
	failures    map[ErrorClass]int
	openedAt    time.Time
	openedClass ErrorClass
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
		failures:  map[ErrorClass]int{},
	}
}

func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Allow returns whether new work is allowed at this instant.
func (c *CircuitBreaker) Allow(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CircuitOpen {
		return true
	}
	if now.Sub(c.openedAt) >= c.Cooldown {
		c.state = CircuitHalfOpen
		return true
	}
	return false
}

// RecordSuccess closes the breaker and forgets past failures.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = CircuitClosed
	c.openedClass = ClassNone
	c.failures = map[ErrorClass]int{}
}

// RecordFailure counts an error of the given class and reports whether this
// failure opened the breaker.
func (c *CircuitBreaker) RecordFailure(class ErrorClass, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if class == ClassNone {
		class = ClassTransport
	}
	if c.state == CircuitHalfOpen {
		c.trip(class, now)
		return true
	}
	c.failures[class]++
	if c.state != CircuitOpen && c.failures[class] >= c.Threshold {
		c.trip(class, now)
		return true
	}
	return false
}

func (c *CircuitBreaker) trip(class ErrorClass, now time.Time) {
	c.state = CircuitOpen
	c.openedAt = now
	c.openedClass = class
}

func (c *CircuitBreaker) OpenedClass() ErrorClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openedClass
}
