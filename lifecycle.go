package swcache

import (
	"context"
	"errors"
	"fmt"
)

// LifecycleState is the worker's position in its install and activate sequence.
type LifecycleState int32

const (
	StateParsed LifecycleState = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s LifecycleState) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return "unknown"
}

var ErrNotInstalled = errors.New("worker is not installed")

func (w *Worker) State() LifecycleState {
	return LifecycleState(w.state.Load())
}

func (w *Worker) setState(s LifecycleState) {
	w.state.Store(int32(s))
	w.log.Debug().Str("state", s.String()).Msg("Lifecycle state changed")
}

// Install moves the worker to the installed state. It never waits for
// older generations to release their pages.
func (w *Worker) Install(ctx context.Context) error {
	switch w.State() {
	case StateParsed:
	case StateInstalled, StateActivating, StateActivated:
		return nil
	default:
		return fmt.Errorf("cannot install in state %s", w.State())
	}
	w.setState(StateInstalling)
	w.setState(StateInstalled)
	w.log.Info().Msg("Worker installed")
	return nil
}

// Activate makes this generation the current one. It deletes all other
// owned generations, takes control of every connected page and stores the
// manifest before returning. A forced drain of the catalog is then started
// in the background.
func (w *Worker) Activate(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateInstalled), int32(StateActivating)) {
		if w.State() == StateActivated {
			return nil
		}
		return fmt.Errorf("%w: state is %s", ErrNotInstalled, w.State())
	}
	w.log.Debug().Str("state", StateActivating.String()).Msg("Lifecycle state changed")

	deleted, err := w.deleteStaleGenerations()
	if err != nil {
		w.log.Error().Err(err).Msg("Could not delete old generations")
	}
	claimed := w.hub.Claim()
	stored := w.CacheManifest(ctx, true)

	w.setState(StateActivated)
	w.log.Info().
		Strs("deleted", deleted).
		Int("claimed", claimed).
		Int("stored", stored).
		Msg("Worker activated")

	w.startDrain(true)
	return nil
}

// deleteStaleGenerations removes every owned generation except the current one.
// Generations with foreign names are left alone.
func (w *Worker) deleteStaleGenerations() ([]string, error) {
	names, err := w.cache.Generations()
	if err != nil {
		cacheErrors.WithLabelValues("generations").Inc()
		return nil, err
	}
	var deleted []string
	var errs []error
	for _, name := range names {
		if name == w.Generation() || !w.keyer.Owns(name) {
			continue
		}
		if err := w.cache.Delete(name); err != nil {
			cacheErrors.WithLabelValues("delete").Inc()
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		generationsDeleted.Inc()
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}
