// Package watcher turns OS filesystem notifications into coalesced rebuild
// requests.
//
// A FileWatcher subscribes recursively to the configured paths through
// fsnotify, drops events for ignored paths (the published output directory,
// its staging siblings, VCS and toolchain directories) and feeds the rest to
// a Debouncer. The Debouncer merges events arriving inside the debounce
// window and emits one RebuildRequest carrying the union of changed paths
// once the window passes without further events.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/tramline/internal/errors"
	"github.com/conneroisu/tramline/internal/logging"
)

// DefaultDebounce is the debounce window used when none is configured.
const DefaultDebounce = 100 * time.Millisecond

// Config describes what a FileWatcher observes.
type Config struct {
	// Paths are watched recursively.
	Paths []string
	// Ignore holds directory names (".git", "target") matched against every
	// path component, and paths (anything containing a separator, such as
	// the output directory) matched by prefix together with their
	// ".stage-*" and ".prev" siblings.
	Ignore   []string
	Debounce time.Duration
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type EventType
	Path string
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// RebuildRequest is one coalesced trigger: the sorted, de-duplicated union
// of paths changed inside a debounce window.
type RebuildRequest struct {
	Paths []string
	At    time.Time
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// FileWatcher watches for file changes with debouncing
type FileWatcher struct {
	config  Config
	logger  logging.Logger
	filters []FileFilter
	mutex   sync.RWMutex
}

// New creates a file watcher. No OS resources are held until Watch is
// called.
func New(config Config, logger logging.Logger) (*FileWatcher, error) {
	if len(config.Paths) == 0 {
		return nil, errors.NewWatchError("no paths to watch", nil)
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}

	ignore := make([]string, 0, len(config.Ignore))
	for _, entry := range config.Ignore {
		if isPathEntry(entry) {
			abs, err := filepath.Abs(entry)
			if err != nil {
				return nil, errors.NewWatchError(fmt.Sprintf("invalid ignore path %s", entry), err)
			}
			entry = abs
		}
		ignore = append(ignore, entry)
	}
	config.Ignore = ignore

	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &FileWatcher{
		config: config,
		logger: logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter. Events for paths rejected by any filter are
// dropped.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// Watch opens a fresh fsnotify subscription and returns the stream of
// rebuild requests and the stream of transient watch errors. Both channels
// are closed once ctx is cancelled and the subscription released. A
// subscription that cannot be established is returned as an error; callers
// treat that as fatal. Watch may be called again after teardown.
func (fw *FileWatcher) Watch(ctx context.Context) (<-chan RebuildRequest, <-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, errors.NewWatchError("failed to create filesystem subscription", err)
	}

	for _, path := range fw.config.Paths {
		if err := fw.addRecursive(watcher, path); err != nil {
			_ = watcher.Close()
			return nil, nil, errors.NewWatchError(fmt.Sprintf("failed to watch %s", path), err)
		}
	}

	events := make(chan ChangeEvent, 100)
	requests := make(chan RebuildRequest)
	errs := make(chan error, 1)

	debouncer := NewDebouncer(fw.config.Debounce)
	go func() {
		defer close(requests)
		debouncer.Run(ctx, events, requests)
	}()

	go func() {
		defer close(errs)
		defer close(events)
		defer watcher.Close()
		fw.watchLoop(ctx, watcher, events, errs)
	}()

	fw.logger.Info(ctx, "Watching for changes",
		"paths", fw.config.Paths,
		"debounce", fw.config.Debounce.String())

	return requests, errs, nil
}

func (fw *FileWatcher) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(filepath.Clean(root), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if fw.Ignored(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func (fw *FileWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, events chan<- ChangeEvent, errs chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, watcher, event, events)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			watchErr := errors.NewWatchError("filesystem notification error", err)
			select {
			case errs <- watchErr:
			default:
				fw.logger.Warn(ctx, watchErr, "Dropped watch error")
			}
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event, events chan<- ChangeEvent) {
	if event.Op == fsnotify.Chmod || fw.Ignored(event.Name) {
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.addRecursive(watcher, event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", event.Name)
			}
		}
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	fw.logger.Debug(ctx, "File changed", "path", event.Name, "type", eventType.String())

	select {
	case events <- ChangeEvent{Type: eventType, Path: event.Name}:
	case <-ctx.Done():
	}
}

// Ignored reports whether path falls under an ignore rule.
func (fw *FileWatcher) Ignored(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	for _, entry := range fw.config.Ignore {
		if isPathEntry(entry) {
			if underPath(abs, entry) {
				return true
			}
			continue
		}
		for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
			if matched, _ := filepath.Match(entry, part); matched {
				return true
			}
		}
	}

	return false
}

func isPathEntry(entry string) bool {
	return filepath.IsAbs(entry) || strings.ContainsRune(filepath.ToSlash(entry), '/')
}

// underPath matches root itself, anything inside it and the sibling
// directories the assembler creates next to it.
func underPath(path, root string) bool {
	sep := string(filepath.Separator)
	for _, candidate := range []string{root, root + ".prev"} {
		if path == candidate || strings.HasPrefix(path, candidate+sep) {
			return true
		}
	}
	return strings.HasPrefix(path, root+".stage-")
}

type debounceState int

const (
	stateIdle debounceState = iota
	stateAccumulating
)

// Debouncer groups rapid file changes together. It is a timer-driven
// accumulator: Idle until the first event, Accumulating while events keep
// arriving inside the window, and flushing one request when the window
// expires.
type Debouncer struct {
	delay   time.Duration
	state   debounceState
	pending map[string]struct{}
	now     func() time.Time
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		pending: make(map[string]struct{}),
		now:     time.Now,
	}
}

// Run consumes events until ctx is cancelled or in is closed. A pending
// batch is flushed when in closes; it is discarded on cancellation.
func (d *Debouncer) Run(ctx context.Context, in <-chan ChangeEvent, out chan<- RebuildRequest) {
	var (
		timer  *time.Timer
		expiry <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	emit := func() bool {
		req := d.flush()
		expiry = nil
		select {
		case out <- req:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-in:
			if !ok {
				if d.state == stateAccumulating {
					emit()
				}
				return
			}
			d.add(event)
			if timer == nil {
				timer = time.NewTimer(d.delay)
			} else {
				timer.Reset(d.delay)
			}
			expiry = timer.C
		case <-expiry:
			if !emit() {
				return
			}
		}
	}
}

func (d *Debouncer) add(event ChangeEvent) {
	d.pending[event.Path] = struct{}{}
	d.state = stateAccumulating
}

func (d *Debouncer) flush() RebuildRequest {
	paths := make([]string, 0, len(d.pending))
	for path := range d.pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	d.pending = make(map[string]struct{})
	d.state = stateIdle

	return RebuildRequest{Paths: paths, At: d.now()}
}

// NoTempFilter drops editor swap and backup files.
func NoTempFilter(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, "~") || strings.HasPrefix(base, ".#") {
		return false
	}
	switch filepath.Ext(base) {
	case ".swp", ".swx", ".tmp":
		return false
	}
	return true
}
