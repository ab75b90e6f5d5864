// Package inbox applies assistant payloads dropped into a directory.
//
// Every *.json file in the inbox is parsed with assistant.Parse and its tasks
// are added to the plan. Applied files move to processed/, rejected files to
// rejected/ next to a .error file holding the reason. Files are handled once
// they have been quiet for the settle delay, so partially written files are
// not read.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/assistant"
	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
)

const (
	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// Target receives the tasks.
type Target interface {
	AddTask(t model.Task) (model.Task, error)
	Today() string
}

// Config holds inbox settings.
type Config struct {
	// Dir is the watched directory. Required.
	Dir string

	// Settle is how long a file must be quiet before it is read.
	Settle time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Settle: 500 * time.Millisecond}
}

// Result reports one handled file.
type Result struct {
	File  string
	Added []model.Task
	Err   error
}

// Inbox watches a directory for payload files.
type Inbox struct {
	dir    string
	target Target
	settle time.Duration
	clock  clock.Clock
	logger *zap.Logger

	watcher *fsnotify.Watcher
	results chan Result
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// procMu serializes file handling.
	procMu sync.Mutex

	mu      sync.Mutex
	running bool
	pending map[string]*clock.Timer
}

// New creates an inbox and its subdirectories.
func New(target Target, config *Config) (*Inbox, error) {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("inbox directory is required")
	}
	for _, dir := range []string{config.Dir, filepath.Join(config.Dir, ProcessedDir), filepath.Join(config.Dir, RejectedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	settle := config.Settle
	if settle <= 0 {
		settle = def.Settle
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Inbox{
		dir:     config.Dir,
		target:  target,
		settle:  settle,
		clock:   clk,
		logger:  logging.OrNop(config.Logger).Named("inbox"),
		results: make(chan Result, 32),
		pending: make(map[string]*clock.Timer),
	}, nil
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string {
	return in.dir
}

// Results delivers the outcome of files handled by the watcher. Results are
// dropped when nobody reads them.
func (in *Inbox) Results() <-chan Result {
	return in.results
}

// Scan handles every payload file already in the inbox, oldest name first.
func (in *Inbox) Scan() ([]Result, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isPayload(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	for _, name := range names {
		if r, ok := in.Process(filepath.Join(in.dir, name)); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// Process handles one file. It reports false when the file is gone.
func (in *Inbox) Process(path string) (Result, bool) {
	in.procMu.Lock()
	defer in.procMu.Unlock()

	name := filepath.Base(path)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Result{}, false
	}
	res := Result{File: name}
	if err != nil {
		res.Err = fmt.Errorf("failed to read %s: %w", name, err)
		in.logger.Warn("unreadable payload", zap.String("file", name), zap.Error(err))
		return res, true
	}

	payload, err := assistant.Parse(raw)
	if err == nil {
		res.Added, err = assistant.Apply(in.target, payload, in.target.Today())
	}
	res.Err = err

	if err != nil {
		in.logger.Warn("rejected payload", zap.String("file", name), zap.Error(err))
		if mvErr := in.move(path, RejectedDir); mvErr != nil {
			in.logger.Error("failed to move rejected payload", zap.String("file", name), zap.Error(mvErr))
		}
		reason := filepath.Join(in.dir, RejectedDir, strings.TrimSuffix(name, ".json")+".error")
		if wErr := os.WriteFile(reason, []byte(err.Error()+"\n"), 0o644); wErr != nil {
			in.logger.Error("failed to write rejection reason", zap.String("file", name), zap.Error(wErr))
		}
		return res, true
	}

	in.logger.Info("applied payload", zap.String("file", name), zap.Int("tasks", len(res.Added)))
	if mvErr := in.move(path, ProcessedDir); mvErr != nil {
		in.logger.Error("failed to move processed payload", zap.String("file", name), zap.Error(mvErr))
	}
	return res, true
}

// move renames path into sub, adding a timestamp when the name is taken.
func (in *Inbox) move(path, sub string) error {
	name := filepath.Base(path)
	dst := filepath.Join(in.dir, sub, name)
	if _, err := os.Stat(dst); err == nil {
		stem := strings.TrimSuffix(name, ".json")
		dst = filepath.Join(in.dir, sub, fmt.Sprintf("%s-%d.json", stem, in.clock.Now().UnixNano()))
	}
	return os.Rename(path, dst)
}

// Start handles existing files, then watches the inbox until ctx is
// cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return fmt.Errorf("inbox already running")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(in.dir); err != nil {
		_ = w.Close()
		in.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", in.dir, err)
	}
	in.watcher = w
	in.ctx, in.cancel = context.WithCancel(ctx)
	in.running = true
	in.mu.Unlock()

	in.wg.Add(1)
	go in.watch()

	results, err := in.Scan()
	if err != nil {
		in.logger.Warn("initial scan failed", zap.Error(err))
	}
	for _, r := range results {
		in.publish(r)
	}
	in.logger.Info("watching inbox", zap.String("dir", in.dir))
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (in *Inbox) Stop() error {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return nil
	}
	in.running = false
	in.cancel()
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
	w := in.watcher
	in.mu.Unlock()

	err := w.Close()
	in.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (in *Inbox) watch() {
	defer in.wg.Done()
	for {
		select {
		case <-in.ctx.Done():
			return
		case event, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if !isPayload(event.Name) || filepath.Dir(event.Name) != filepath.Clean(in.dir) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				in.schedule(event.Name)
			}
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			in.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// schedule (re)starts the settle timer for path.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running {
		return
	}
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	in.pending[path] = in.clock.AfterFunc(in.settle, func() {
		in.mu.Lock()
		delete(in.pending, path)
		running := in.running
		in.mu.Unlock()
		if !running {
			return
		}
		if r, ok := in.Process(path); ok {
			in.publish(r)
		}
	})
}

func (in *Inbox) publish(r Result) {
	select {
	case in.results <- r:
	default:
		in.logger.Debug("dropping inbox result", zap.String("file", r.File))
	}
}

func isPayload(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(filepath.Base(name), ".")
}
