package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joshu-sajeev/pollq/internal/models"
)

const (
	sharedPIDFile = "queue.pid"
	pidFilePrefix = "queue_"
	pidFileSuffix = ".pid"
	sharedMarker  = "shared"
)

// FileRegistry is the legacy pid-file backend. Each worker owns
// queue_<pid>.pid holding its OS pid, followed by "shared" when the process
// runs several workers; queue.pid is touched by every heartbeat. Liveness is
// the file modification time.
type FileRegistry struct {
	dir     string
	timeout time.Duration
	host    string
	now     func() time.Time
}

var _ Registry = (*FileRegistry)(nil)

func NewFileRegistry(dir string, timeout time.Duration) (*FileRegistry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("pid file directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}
	host, _ := os.Hostname()
	return &FileRegistry{dir: dir, timeout: timeout, host: host, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (r *FileRegistry) WithClock(now func() time.Time) *FileRegistry {
	r.now = now
	return r
}

func (r *FileRegistry) path(pid string) string {
	return filepath.Join(r.dir, pidFilePrefix+pid+pidFileSuffix)
}

func (r *FileRegistry) Add(ctx context.Context, pid string, meta map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validPID(pid); err != nil {
		return err
	}

	path := r.path(pid)
	if info, err := os.Stat(path); err == nil && r.alive(info.ModTime()) {
		return fmt.Errorf("%w: %s", ErrProcessExists, pid)
	}

	content := strconv.Itoa(OSPID(meta))
	if SharedProcess(meta) {
		content += " " + sharedMarker
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return r.touch(path)
}

func (r *FileRegistry) Update(ctx context.Context, pid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := r.path(pid)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrProcessNotFound, pid)
		}
		return fmt.Errorf("stat pid file: %w", err)
	}
	return r.touch(path)
}

func (r *FileRegistry) Remove(ctx context.Context, pid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(r.path(pid)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Terminate removes the pid file and sends SIGTERM to the recorded OS pid
// unless the process is shared.
func (r *FileRegistry) Terminate(ctx context.Context, pid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := r.path(pid)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrProcessNotFound, pid)
		}
		return fmt.Errorf("read pid file: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}

	osPID, shared := parsePIDFile(data)
	if shared {
		return nil
	}
	return Signal(osPID)
}

func (r *FileRegistry) CleanKilledProcesses(ctx context.Context) (int64, error) {
	files, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, f := range files {
		if r.alive(f.mtime) {
			continue
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove pid file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (r *FileRegistry) Status(ctx context.Context) (Status, error) {
	files, err := r.scan(ctx)
	if err != nil {
		return Status{}, err
	}
	var st Status
	for _, f := range files {
		if !r.alive(f.mtime) {
			continue
		}
		st.Workers++
		if st.LastHeartbeat == nil || f.mtime.After(*st.LastHeartbeat) {
			t := f.mtime
			st.LastHeartbeat = &t
		}
	}
	return st, nil
}

func (r *FileRegistry) List(ctx context.Context) ([]models.Process, error) {
	files, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Process, 0, len(files))
	for _, f := range files {
		out = append(out, models.Process{
			PID:           f.pid,
			Server:        r.host,
			Meta:          f.meta(),
			LastHeartbeat: f.mtime,
		})
	}
	return out, nil
}

type pidFile struct {
	pid    string
	path   string
	osPID  int
	shared bool
	mtime  time.Time
}

func (f pidFile) meta() map[string]any {
	meta := map[string]any{MetaOSPID: f.osPID}
	if f.shared {
		meta[MetaSharedProcess] = true
	}
	return meta
}

func parsePIDFile(data []byte) (osPID int, shared bool) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	osPID, _ = strconv.Atoi(fields[0])
	return osPID, len(fields) > 1 && fields[1] == sharedMarker
}

func (r *FileRegistry) scan(ctx context.Context) ([]pidFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read pid directory: %w", err)
	}

	var files []pidFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, pidFilePrefix) || !strings.HasSuffix(name, pidFileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(r.dir, name)
		data, _ := os.ReadFile(path)
		osPID, shared := parsePIDFile(data)
		files = append(files, pidFile{
			pid:    strings.TrimSuffix(strings.TrimPrefix(name, pidFilePrefix), pidFileSuffix),
			path:   path,
			osPID:  osPID,
			shared: shared,
			mtime:  info.ModTime(),
		})
	}
	return files, nil
}

func (r *FileRegistry) touch(path string) error {
	now := r.now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("touch pid file: %w", err)
	}

	shared := filepath.Join(r.dir, sharedPIDFile)
	f, err := os.OpenFile(shared, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open shared pid file: %w", err)
	}
	f.Close()
	return os.Chtimes(shared, now, now)
}

func (r *FileRegistry) alive(mtime time.Time) bool {
	return r.now().Sub(mtime) < r.timeout
}

func validPID(pid string) error {
	if pid == "" || strings.ContainsAny(pid, `/\`) {
		return fmt.Errorf("invalid process id %q", pid)
	}
	return nil
}
