package githook

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// ErrRootBusy indicates another session already holds the commit blocker for
// the same project root.
var ErrRootBusy = errors.New("commit blocker already held for project root")

// Registry provides per-project-root mutual exclusion over the commit
// blocker. In-process exclusion uses a keyed map; a flock file beside the
// hooks directory guards against a second runner process on the same root.
type Registry struct {
	mu   sync.Mutex
	held map[string]string
}

// NewRegistry constructs an empty blocker registry.
func NewRegistry() *Registry {
	return &Registry{held: map[string]string{}}
}

// Guard is a scoped acquisition of the commit blocker for one root. Release
// removes the hook and drops the locks on every exit path; it is idempotent.
type Guard struct {
	registry *Registry
	root     string
	fileLock *flock.Flock
	once     sync.Once
}

// Acquire installs the commit blocker for root on behalf of holder and
// returns a guard whose Release restores the previous hook state.
func (r *Registry) Acquire(root string, holder string) (*Guard, error) {
	if r == nil {
		return nil, errors.New("registry is nil")
	}
	key, err := normalizeRoot(root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, busy := r.held[key]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (held by %s)", ErrRootBusy, key, existing)
	}
	r.held[key] = strings.TrimSpace(holder)
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.held, key)
		r.mu.Unlock()
	}

	fileLock := flock.New(filepath.Join(HooksDir(root), lockFileName))
	locked, err := fileLock.TryLock()
	if err != nil {
		// A missing hooks directory surfaces here; map it to the same
		// condition Install reports so callers treat blocking as unavailable.
		release()
		return nil, fmt.Errorf("%w: %v", ErrHooksDirUnavailable, err)
	}
	if !locked {
		release()
		return nil, fmt.Errorf("%w: %s (locked by another process)", ErrRootBusy, key)
	}

	if err := Install(root); err != nil {
		_ = fileLock.Unlock()
		release()
		return nil, err
	}

	return &Guard{registry: r, root: root, fileLock: fileLock}, nil
}

// Release removes the blocking hook, restores any backup, and drops both the
// in-process reservation and the cross-process file lock.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	var result error
	g.once.Do(func() {
		result = Remove(g.root)
		if g.fileLock != nil {
			if err := g.fileLock.Unlock(); err != nil && result == nil {
				result = fmt.Errorf("unlock commit blocker: %w", err)
			}
		}
		if g.registry != nil {
			key, err := normalizeRoot(g.root)
			if err == nil {
				g.registry.mu.Lock()
				delete(g.registry.held, key)
				g.registry.mu.Unlock()
			}
		}
	})
	return result
}

func normalizeRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", errors.New("project root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root %s: %w", root, err)
	}
	return filepath.Clean(abs), nil
}
