package daemon

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jcdickinson/ferrisindex/internal/docs"
)

// Watcher reports artifact files that change under a set of doc roots.
// Bursts of events for one file collapse into a single callback once the
// file has been quiet for the debounce interval.
type Watcher struct {
	fsw      *fsnotify.Watcher
	roots    []string
	debounce time.Duration
	reload   func(root, rel string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	closed  bool
	pending sync.WaitGroup

	done chan struct{}
	loop sync.WaitGroup
}

func NewWatcher(roots []string, debounce time.Duration, reload func(root, rel string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		reload:   reload,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		if err := w.addTree(abs, false); err != nil {
			fsw.Close()
			return nil, err
		}
		w.roots = append(w.roots, abs)
	}

	w.loop.Add(1)
	go w.run()
	log.Printf("daemon: watching %d roots", len(w.roots))
	return w, nil
}

// Roots returns the watched roots.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// addTree watches dir and every directory below it. With schedule set, any
// artifact already present is queued, which covers files written into a new
// directory before its watch was in place.
func (w *Watcher) addTree(dir string, schedule bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		if schedule {
			w.consider(p)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer w.loop.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("daemon: watch error: %v", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name, true); err != nil {
				log.Printf("daemon: watching %s: %v", ev.Name, err)
			}
			return
		}
	}
	w.consider(ev.Name)
}

func (w *Watcher) consider(abs string) {
	root, rel, ok := docs.SplitRoot(abs, w.roots)
	if !ok {
		return
	}
	w.schedule(abs, root, rel)
}

func (w *Watcher) schedule(abs, root, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[abs]; ok && t.Stop() {
		w.pending.Done()
	}

	w.pending.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.pending.Done()
		w.mu.Lock()
		if w.timers[abs] == t {
			delete(w.timers, abs)
		}
		closed := w.closed
		w.mu.Unlock()
		if !closed {
			w.reload(root, rel)
		}
	})
	w.timers[abs] = t
}

// Close stops watching and waits for in-flight callbacks to return.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for abs, t := range w.timers {
		if t.Stop() {
			w.pending.Done()
		}
		delete(w.timers, abs)
	}
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.loop.Wait()
	w.pending.Wait()
	return err
}
