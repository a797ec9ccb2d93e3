package policy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a policy file and invokes a reload callback on change.
// The callback receives the freshly loaded config and hash; swapping the
// live engine is the caller's job so evaluation stays copy-on-write.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	reload  func(cfg *Config, hash string)
}

// NewWatcher creates a file watcher for the given policy path. A missing
// file is not an error; the watcher simply has nothing to report until the
// file appears at a watched path.
func NewWatcher(path string, reload func(cfg *Config, hash string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if err := w.Add(path); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", path, err)
		}
	}
	return &Watcher{watcher: w, path: path, reload: reload}, nil
}

// Run blocks until ctx is cancelled, reloading on write/create events.
// Reload errors keep the previous policy in force.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Editors fire several events per save; settle before reloading.
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, w.reloadNow)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "policy watcher error: %v\n", err)
		}
	}
}

func (w *Watcher) reloadNow() {
	cfg, hash, err := LoadConfigWithHash(w.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy reload failed, keeping previous policy: %v\n", err)
		return
	}
	w.reload(cfg, hash)
	fmt.Fprintf(os.Stderr, "policy reloaded from %s (%s)\n", w.path, hash)
}
