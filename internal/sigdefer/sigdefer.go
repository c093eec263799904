// Package sigdefer provides a scoped write-critical-section that defers
// delivery of termination signals until the section completes, then
// re-raises them. It guarantees a single atomic persistence operation is
// never torn by an interrupt, while the process still terminates promptly.
package sigdefer

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Raiser re-delivers a deferred signal to the process. It exists so tests
// can observe re-delivery without actually signaling themselves.
type Raiser interface {
	Raise(sig os.Signal) error
}

type selfRaiser struct{}

func (selfRaiser) Raise(sig os.Signal) error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// Section serializes critical writes and shields each one from SIGINT and
// SIGTERM. Safe for concurrent callers; sections execute one at a time.
type Section struct {
	mu     sync.Mutex
	raiser Raiser
}

// New returns a Section that re-raises deferred signals to the own process.
func New() *Section {
	return &Section{raiser: selfRaiser{}}
}

// NewWithRaiser returns a Section with a custom re-delivery mechanism.
func NewWithRaiser(r Raiser) *Section {
	return &Section{raiser: r}
}

// Do runs fn with SIGINT/SIGTERM delivery deferred. If a signal arrives
// while fn runs, it is re-raised immediately after fn returns and the
// previous signal disposition is restored first, so the re-raised signal
// takes its normal effect.
func (s *Section) Do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	err := fn()

	signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		// Delivery was queued during the write; honor it now.
		_ = s.raiser.Raise(sig)
	default:
	}
	return err
}
