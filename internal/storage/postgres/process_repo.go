package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joshu-sajeev/pollq/internal/models"
	"github.com/joshu-sajeev/pollq/internal/process"
	"gorm.io/gorm"
)

// ProcessRepository is the table-backed process registry.
type ProcessRepository struct {
	db      *gorm.DB
	timeout time.Duration
	host    string
	options
}

func NewProcessRepository(db *gorm.DB, timeout time.Duration, opts ...Option) *ProcessRepository {
	host, _ := os.Hostname()
	return &ProcessRepository{db: db, timeout: timeout, host: host, options: newOptions(opts)}
}

var _ process.Registry = (*ProcessRepository)(nil)

// Add registers pid. A stale row left by a crashed worker with the same
// identity is replaced.
func (r *ProcessRepository) Add(ctx context.Context, pid string, meta map[string]any) error {
	if pid == "" {
		return errors.New("process id is required")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.clock()

		var existing models.Process
		err := tx.First(&existing, "pid = ?", pid).Error
		switch {
		case err == nil && now.Sub(existing.LastHeartbeat) < r.timeout:
			return fmt.Errorf("%w: %s", process.ErrProcessExists, pid)
		case err == nil:
			if err := tx.Delete(&models.Process{}, "pid = ?", pid).Error; err != nil {
				return fmt.Errorf("replace stale process: %w", err)
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("get process: %w", err)
		}

		p := models.Process{
			PID:           pid,
			Server:        r.host,
			Meta:          meta,
			CreatedAt:     now,
			LastHeartbeat: now,
		}
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("add process: %w", err)
		}
		return nil
	})
}

// Update touches the heartbeat. ErrProcessNotFound means the row was removed
// and the worker must stop.
func (r *ProcessRepository) Update(ctx context.Context, pid string) error {
	res := r.db.WithContext(ctx).Model(&models.Process{}).
		Where("pid = ?", pid).
		Update("last_heartbeat", r.clock())
	if res.Error != nil {
		return fmt.Errorf("update process: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", process.ErrProcessNotFound, pid)
	}
	return nil
}

func (r *ProcessRepository) Remove(ctx context.Context, pid string) error {
	if err := r.db.WithContext(ctx).Delete(&models.Process{}, "pid = ?", pid).Error; err != nil {
		return fmt.Errorf("remove process: %w", err)
	}
	return nil
}

// Terminate deletes the row, which stops the worker at its next heartbeat,
// and sends SIGTERM when the worker runs alone in a process on this host.
func (r *ProcessRepository) Terminate(ctx context.Context, pid string) error {
	var p models.Process
	if err := r.db.WithContext(ctx).First(&p, "pid = ?", pid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", process.ErrProcessNotFound, pid)
		}
		return fmt.Errorf("get process: %w", err)
	}
	if err := r.Remove(ctx, pid); err != nil {
		return err
	}
	if p.Server != "" && p.Server == r.host {
		return process.SignalOwner(p.Meta)
	}
	return nil
}

// CleanKilledProcesses deletes rows whose heartbeat is older than the
// worker timeout.
func (r *ProcessRepository) CleanKilledProcesses(ctx context.Context) (int64, error) {
	cutoff := r.clock().Add(-r.timeout)
	res := r.db.WithContext(ctx).Where("last_heartbeat < ?", cutoff).Delete(&models.Process{})
	if res.Error != nil {
		return 0, fmt.Errorf("clean killed processes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ProcessRepository) Status(ctx context.Context) (process.Status, error) {
	cutoff := r.clock().Add(-r.timeout)
	db := r.db.WithContext(ctx)

	var n int64
	if err := db.Model(&models.Process{}).Where("last_heartbeat >= ?", cutoff).Count(&n).Error; err != nil {
		return process.Status{}, fmt.Errorf("count processes: %w", err)
	}
	st := process.Status{Workers: int(n)}
	if n == 0 {
		return st, nil
	}

	var latest models.Process
	if err := db.Select("last_heartbeat").Order("last_heartbeat DESC").Take(&latest).Error; err != nil {
		return process.Status{}, fmt.Errorf("latest heartbeat: %w", err)
	}
	st.LastHeartbeat = &latest.LastHeartbeat
	return st, nil
}

// List returns every registered process, most recent heartbeat first.
func (r *ProcessRepository) List(ctx context.Context) ([]models.Process, error) {
	var procs []models.Process
	if err := r.db.WithContext(ctx).Order("last_heartbeat DESC").Find(&procs).Error; err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return procs, nil
}
