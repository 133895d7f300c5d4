package config

import (
	"errors"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Resolver when its config file changes.
// Changes are debounced so an editor's write-rename sequence triggers one reload.
type Watcher struct {
	resolver *Resolver
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	timer    *time.Timer
}

// NewWatcher creates a watcher for the resolver's config file.
func NewWatcher(r *Resolver) (*Watcher, error) {
	if r.Path() == "" {
		return nil, errors.New("resolver has no config file to watch")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		resolver: r,
		path:     r.Path(),
		watcher:  w,
		debounce: 300 * time.Millisecond,
	}, nil
}

// Start begins watching. The parent directory is watched so the file may be
// replaced atomically.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}

	cw.mu.Lock()
	cw.stopChan = make(chan struct{})
	cw.mu.Unlock()
	go cw.watchLoop()

	log.Printf("[CONFIG] Watching %s", cw.path)
	return nil
}

// Stop halts the watcher.
func (cw *Watcher) Stop() {
	cw.mu.Lock()
	if cw.stopChan != nil {
		close(cw.stopChan)
		cw.stopChan = nil
	}
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.mu.Unlock()
	cw.watcher.Close()
}

func (cw *Watcher) watchLoop() {
	cw.mu.Lock()
	stop := cw.stopChan
	cw.mu.Unlock()

	for {
		select {
		case <-stop:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cw.mu.Lock()
			if cw.timer != nil {
				cw.timer.Stop()
			}
			cw.timer = time.AfterFunc(cw.debounce, cw.reload)
			cw.mu.Unlock()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[CONFIG] Watcher error: %v", err)
		}
	}
}

func (cw *Watcher) reload() {
	log.Printf("[CONFIG] %s changed, reloading", cw.path)
	if _, err := cw.resolver.Reload(); err != nil {
		log.Printf("[CONFIG] Reload rejected, keeping previous config: %v", err)
		return
	}
	log.Printf("[CONFIG] Reloaded")
}
