package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/pollq/internal/models"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrProcessExists   = errors.New("process already registered")
)

const (
	// MetaOSPID is the Meta key holding the operating-system pid of a worker.
	MetaOSPID = "os_pid"
	// MetaSharedProcess marks a worker whose OS process also runs other
	// workers. Terminating it removes the record without a signal.
	MetaSharedProcess = "shared_process"
)

// Status summarizes the live workers.
type Status struct {
	Workers       int        `json:"workers"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// Registry tracks one heartbeat record per live worker. A record older than
// the worker timeout is dead.
type Registry interface {
	// Add fails with ErrProcessExists while a live record for pid exists.
	Add(ctx context.Context, pid string, meta map[string]any) error
	// Update fails with ErrProcessNotFound once the record was removed.
	Update(ctx context.Context, pid string) error
	Remove(ctx context.Context, pid string) error
	Terminate(ctx context.Context, pid string) error
	CleanKilledProcesses(ctx context.Context) (int64, error)
	Status(ctx context.Context) (Status, error)
	List(ctx context.Context) ([]models.Process, error)
}

// Identity resolves the worker identity: the configured id, else the OS pid.
// PID 1 is not unique across containers, so it is replaced by a random id.
func Identity(configured string) string {
	if configured != "" {
		return configured
	}
	pid := os.Getpid()
	if pid == 1 {
		return uuid.NewString()
	}
	return strconv.Itoa(pid)
}

// LocalMeta describes the current process for Add.
func LocalMeta() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		MetaOSPID: os.Getpid(),
		"host":    host,
	}
}

// Signal sends SIGTERM to a process on this host. The worker treats it as a
// request to drain.
func Signal(osPID int) error {
	if osPID <= 0 || osPID == os.Getpid() {
		return nil
	}
	p, err := os.FindProcess(osPID)
	if err != nil {
		return fmt.Errorf("find process %d: %w", osPID, err)
	}
	if err := p.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal process %d: %w", osPID, err)
	}
	return nil
}

// SignalOwner sends SIGTERM to the OS process recorded in meta unless other
// workers share it.
func SignalOwner(meta map[string]any) error {
	if SharedProcess(meta) {
		return nil
	}
	return Signal(OSPID(meta))
}

func SharedProcess(meta map[string]any) bool {
	shared, _ := meta[MetaSharedProcess].(bool)
	return shared
}

// OSPID reads MetaOSPID from a process meta map. JSON round trips turn it
// into a float64.
func OSPID(meta map[string]any) int {
	switch v := meta[MetaOSPID].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
