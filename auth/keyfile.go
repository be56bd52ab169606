package auth

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// FileRegistry is a KeyLookup backed by a file with one API key per line
// (blank lines and #-comments ignored). The active set is swapped
// atomically when the file changes; readers always see a complete,
// immutable set. A rewrite that fails to load keeps the previous set.
type FileRegistry struct {
	path    string
	keys    atomic.Value // KeyRegistry
	watcher *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
}

// NewFileRegistry loads the key file and starts watching it for changes.
// Close must be called to release the watcher.
func NewFileRegistry(path string, log *slog.Logger) (*FileRegistry, error) {
	if log == nil {
		log = slog.Default()
	}
	fr := &FileRegistry{path: path, log: log, done: make(chan struct{})}
	set, err := loadKeyFile(path)
	if err != nil {
		return nil, err
	}
	fr.keys.Store(set)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("key file watcher: %w", err)
	}
	// Watch the directory: editors and config tooling typically replace the
	// file via rename, which drops a watch on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("key file watcher: %w", err)
	}
	fr.watcher = w
	go fr.run()
	return fr, nil
}

func (fr *FileRegistry) Contains(key string) bool {
	return fr.keys.Load().(KeyRegistry).Contains(key)
}

// Len returns the current number of keys.
func (fr *FileRegistry) Len() int {
	return len(fr.keys.Load().(KeyRegistry))
}

// Close stops the watcher. The last loaded set stays readable.
func (fr *FileRegistry) Close() error {
	close(fr.done)
	return fr.watcher.Close()
}

func (fr *FileRegistry) run() {
	target := filepath.Clean(fr.path)
	for {
		select {
		case <-fr.done:
			return
		case ev, ok := <-fr.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			set, err := loadKeyFile(fr.path)
			if err != nil {
				fr.log.Warn("auth.keyfile.reload_fail", slog.String("path", fr.path), slog.String("err", err.Error()))
				continue
			}
			fr.keys.Store(set)
			fr.log.Info("auth.keyfile.reloaded", slog.String("path", fr.path), slog.Int("keys", len(set)))
		case err, ok := <-fr.watcher.Errors:
			if !ok {
				return
			}
			fr.log.Warn("auth.keyfile.watch_err", slog.String("err", err.Error()))
		}
	}
}

func loadKeyFile(path string) (KeyRegistry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("key file: %w", err)
	}
	defer f.Close()

	set := make(KeyRegistry)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("key file: %w", err)
	}
	return set, nil
}
