package policy

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/orgvault/secretreplica/internal/domain"
	"github.com/orgvault/secretreplica/internal/logging"
	"github.com/orgvault/secretreplica/internal/replication"
)

// FileOracle serves bindings loaded from a JSON file and re-read
// whenever the file changes, watched with fsnotify for hot reload.
type FileOracle struct {
	path    string
	log     logging.Logger
	current atomic.Pointer[StaticOracle]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileOracle loads path once synchronously, then starts a
// background watcher that reloads it on every write/create/rename
// event. Call Close to stop watching.
func NewFileOracle(path string, log logging.Logger) (*FileOracle, error) {
	if log == nil {
		log = logging.Noop{}
	}
	o := &FileOracle{path: path, log: log, done: make(chan struct{})}
	if err := o.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	o.watcher = watcher
	go o.watchLoop()
	return o, nil
}

func (o *FileOracle) reload() error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		return err
	}
	var bindings []Binding
	if err := json.Unmarshal(data, &bindings); err != nil {
		return err
	}
	o.current.Store(NewStaticOracle(bindings))
	return nil
}

func (o *FileOracle) watchLoop() {
	ctx := context.Background()
	for {
		select {
		case <-o.done:
			return
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := o.reload(); err != nil {
				o.log.Warn(ctx, "policy: reload failed", "path", o.path, "error", err)
			} else {
				o.log.Info(ctx, "policy: bindings reloaded", "path", o.path)
			}
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.log.Warn(ctx, "policy: watcher error", "error", err)
		}
	}
}

func (o *FileOracle) FindBoundPolicy(ctx context.Context, projectID, environmentSlug, folderPath string) (domain.ApprovalPolicy, bool, error) {
	return o.current.Load().FindBoundPolicy(ctx, projectID, environmentSlug, folderPath)
}

func (o *FileOracle) Close() error {
	close(o.done)
	if o.watcher != nil {
		return o.watcher.Close()
	}
	return nil
}

var _ replication.ApprovalPolicyOracle = (*FileOracle)(nil)
