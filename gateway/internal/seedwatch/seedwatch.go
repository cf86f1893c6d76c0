// Package seedwatch hot-reloads the gateway's backend seed list from a YAML
// file, so operators can add or remove backends by editing a file instead
// of restarting the process.
package seedwatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document shape watched on disk.
type SeedFile struct {
	Backends []string `yaml:"backends"`
}

// Change is delivered on the Watcher's channel whenever the file's content
// checksum changes.
type Change struct {
	Backends []string
}

// Watcher watches a single YAML file's parent directory and emits a Change
// whenever that exact file is written with different content.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	checksum string

	changes chan Change
	errs    chan error
}

// New creates a Watcher for path. path need not exist yet; reload fires
// once it is created and written.
func New(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("seedwatch: new fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("seedwatch: watch %s: %w", dir, err)
	}
	return &Watcher{path: path, watcher: fsw, changes: make(chan Change, 1), errs: make(chan error, 1)}, nil
}

// Changes returns the channel of reload events.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Errors returns the channel of watch-loop errors (decode failures, fsnotify
// errors). The loop keeps running after emitting one.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Load reads path once, synchronously, without requiring a prior fsnotify
// event. Used at startup to get the initial backend list.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seedwatch: read %s: %w", path, err)
	}
	var doc SeedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("seedwatch: decode %s: %w", path, err)
	}
	return doc.Backends, nil
}

// Run processes fsnotify events until ctx is done or Close is called. It is
// intended to run in its own goroutine.
func (w *Watcher) Run(done <-chan struct{}) {
	defer close(w.changes)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) reload() {
	backends, err := Load(w.path)
	if err != nil {
		select {
		case w.errs <- err:
		default:
		}
		return
	}
	data, _ := yaml.Marshal(SeedFile{Backends: backends})
	sum := checksum(data)

	w.mu.Lock()
	changed := sum != w.checksum
	w.checksum = sum
	w.mu.Unlock()

	if changed {
		w.changes <- Change{Backends: backends}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
