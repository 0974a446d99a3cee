// Package daemon runs the sync engine continuously.
//
// The daemon:
// 1. Runs a full sync cycle on startup
// 2. Runs periodic cycles on a fixed interval
// 3. Watches the local database file and triggers a debounced cycle on change
// 4. Handles graceful shutdown
//
// Cycles are strictly serialized: a trigger arriving while a cycle runs is
// coalesced into one follow-up cycle.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TinchoProyect/sincronizador-etiquetas-dev-sub004/internal/engine"
)

// Runner executes one sync cycle. The engine's Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context) (*engine.Summary, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval is the spacing between periodic cycles.
	Interval time.Duration

	// DebounceInterval is how long to wait after a database change before
	// triggering a cycle. Batches rapid local edits together.
	DebounceInterval time.Duration

	// LogFile, when set, sends daemon logs to a size-rotated file instead
	// of the configured Logger's writer.
	LogFile string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         5 * time.Minute,
		DebounceInterval: 2 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic and change-triggered sync cycles.
type Daemon struct {
	runner Runner
	dbPath string
	config *Config

	watcher *fsnotify.Watcher
	trigger chan struct{}

	mu          sync.Mutex
	debounce    *time.Timer
	lastSummary *engine.Summary
	cycles      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon watching the database at dbPath.
//
// Use Start() to begin cycling.
func New(runner Runner, dbPath string) (*Daemon, error) {
	return NewWithConfig(runner, dbPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(runner Runner, dbPath string, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.LogFile != "" {
		config.Logger = log.New(&lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		runner:  runner,
		dbPath:  dbPath,
		config:  config,
		watcher: watcher,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or the initial cycle fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if _, err := d.runCycle(ctx); err != nil {
		return fmt.Errorf("initial sync cycle failed: %w", err)
	}

	// Watch the directory, not the file: SQLite swaps WAL files around and
	// some editors replace files wholesale, which drops a file-level watch.
	if err := d.watcher.Add(filepath.Dir(d.dbPath)); err != nil {
		return fmt.Errorf("failed to watch database directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s (every %v)", d.dbPath, d.config.Interval)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.runLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// LastSummary returns the most recent cycle's summary, or nil before the
// first cycle completes.
func (d *Daemon) LastSummary() *engine.Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSummary
}

// Cycles returns how many cycles have been attempted so far.
func (d *Daemon) Cycles() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

// watchFileEvents monitors filesystem events and arms the debounce timer.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !d.isDatabaseFile(event.Name) {
				continue
			}
			d.queueTrigger()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// isDatabaseFile reports whether a changed path belongs to the watched
// database (the file itself or its WAL/SHM companions).
func (d *Daemon) isDatabaseFile(path string) bool {
	base := filepath.Base(d.dbPath)
	name := filepath.Base(path)
	return name == base || strings.HasPrefix(name, base+"-")
}

// queueTrigger (re)arms the debounce timer; when it fires, one cycle is
// requested. Multiple triggers coalesce.
func (d *Daemon) queueTrigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.debounce != nil {
		d.debounce.Stop()
	}
	d.debounce = time.AfterFunc(d.config.DebounceInterval, func() {
		select {
		case d.trigger <- struct{}{}:
		default:
		}
	})
}

// runLoop serializes periodic and triggered cycles.
func (d *Daemon) runLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if _, err := d.runCycle(d.ctx); err != nil {
				d.config.Logger.Printf("Periodic cycle failed: %v", err)
			}

		case <-d.trigger:
			d.config.Logger.Println("Database change detected, running cycle")
			if _, err := d.runCycle(d.ctx); err != nil {
				d.config.Logger.Printf("Triggered cycle failed: %v", err)
			}
		}
	}
}

// runCycle executes one sync cycle and records its summary.
func (d *Daemon) runCycle(ctx context.Context) (*engine.Summary, error) {
	summary, err := d.runner.Run(ctx)

	d.mu.Lock()
	d.cycles++
	if summary != nil {
		d.lastSummary = summary
	}
	d.mu.Unlock()

	return summary, err
}
