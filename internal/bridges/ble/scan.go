package ble

import (
	"time"

	"github.com/nerrad567/webble-core/internal/radio"
)

// candidate is a discovered peripheral not yet granted to a page.
type candidate struct {
	peripheral radio.Peripheral
	adv        radio.Advertisement
}

// scanSession is the state of the single active device selection.
type scanSession struct {
	txn        *Transaction
	filters    []Filter // nil accepts every peripheral
	candidates []candidate
	seen       map[string]bool
	started    time.Time
	gen        uint64
	timer      *time.Timer
	finished   bool
}

// scanController owns the active scan session and its radio interaction.
// It is used only from the engine goroutine.
type scanController struct {
	adapter   radio.Adapter
	session   *scanSession
	gen       uint64
	earlyRSSI int

	// arm schedules a timeout event for the session generation.
	arm func(d time.Duration, gen uint64) *time.Timer
}

func newScanController(adapter radio.Adapter, earlyRSSI int, arm func(time.Duration, uint64) *time.Timer) *scanController {
	return &scanController{
		adapter:   adapter,
		earlyRSSI: earlyRSSI,
		arm:       arm,
	}
}

// active reports whether a selection is in progress.
func (s *scanController) active() bool {
	return s.session != nil
}

// start opens a session for txn. Discovery is restricted to the union of
// services named by the filters; accept-all passes no restriction.
func (s *scanController) start(txn *Transaction, filters []Filter, timeout time.Duration) error {
	s.clearCandidates()

	if err := s.adapter.StartDiscovery(serviceUnion(filters)); err != nil {
		return err
	}

	s.gen++
	s.session = &scanSession{
		txn:     txn,
		filters: filters,
		seen:    make(map[string]bool),
		started: time.Now(),
		gen:     s.gen,
	}
	if timeout > 0 && s.arm != nil {
		s.session.timer = s.arm(timeout, s.gen)
	}
	return nil
}

// onDiscovered buffers a matching peripheral once. It reports whether the
// peripheral was accepted and whether it meets the early selection threshold.
func (s *scanController) onDiscovered(ev radio.Discovered) (accepted, early bool) {
	sess := s.session
	if sess == nil || sess.finished {
		return false, false
	}
	id := ev.Peripheral.ID
	if sess.seen[id] {
		return false, false
	}

	name := ev.Advertisement.LocalName
	if name == "" {
		name = ev.Peripheral.Name
	}
	if !matchesAny(sess.filters, name, ev.Advertisement) {
		return false, false
	}

	sess.seen[id] = true
	sess.candidates = append(sess.candidates, candidate{peripheral: ev.Peripheral, adv: ev.Advertisement})

	early = s.earlyRSSI != 0 && ev.Advertisement.RSSI >= s.earlyRSSI
	return true, early
}

// claim takes the session for resolution if gen still names it. The timer
// and early selection both claim; only the first succeeds.
func (s *scanController) claim(gen uint64) (*scanSession, bool) {
	sess := s.session
	if sess == nil || sess.finished || sess.gen != gen {
		return nil, false
	}
	sess.finished = true
	if sess.timer != nil {
		sess.timer.Stop()
	}
	return sess, true
}

// currentGen returns the generation of the active session, or 0.
func (s *scanController) currentGen() uint64 {
	if s.session == nil {
		return 0
	}
	return s.session.gen
}

// best returns the highest RSSI candidate. Ties go to the first discovered.
func (sess *scanSession) best() (candidate, bool) {
	if len(sess.candidates) == 0 {
		return candidate{}, false
	}
	best := sess.candidates[0]
	for _, c := range sess.candidates[1:] {
		if c.adv.RSSI > best.adv.RSSI {
			best = c
		}
	}
	return best, true
}

// stopScanning ends discovery and drops the session. Safe to call repeatedly.
func (s *scanController) stopScanning() {
	if s.session != nil && s.session.timer != nil {
		s.session.timer.Stop()
	}
	if s.adapter.IsDiscovering() {
		_ = s.adapter.StopDiscovery() //nolint:errcheck // scan ends either way
	}
	s.clearCandidates()
	s.session = nil
}

func (s *scanController) clearCandidates() {
	if s.session == nil {
		return
	}
	s.session.candidates = nil
	s.session.seen = make(map[string]bool)
}

// candidateCount returns the number of buffered candidates.
func (s *scanController) candidateCount() int {
	if s.session == nil {
		return 0
	}
	return len(s.session.candidates)
}
