package tasks

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/core"
)

const (
	MaxLogsPerTask = 1000

	// DefaultTimeout bounds a single task run.
	DefaultTimeout = 5 * time.Minute
)

// Manager runs named background tasks, periodically and on demand, and keeps the
// log output of each task's latest run.
type Manager struct {
	tasks   sync.Map
	timeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a manager whose task runs are bounded by timeout (DefaultTimeout when zero).
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		timeout: timeout,
		ctx:     context.Background(),
	}
}

// Register adds a task. Tasks with a positive interval are scheduled once the manager
// is started; registering after Start schedules immediately.
func (m *Manager) Register(name string, interval time.Duration, fn TaskFunc) {
	task := &RunnableTask{
		Name:         name,
		Interval:     interval,
		Handler:      fn,
		Logs:         make([]LogEntry, 0),
		timeout:      m.timeout,
		registeredAt: time.Now(),
	}
	m.tasks.Store(name, task)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started && interval > 0 {
		m.schedule(task)
	}
}

// Start schedules all periodic tasks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.ctx = ctx

	m.tasks.Range(func(_, value any) bool {
		if task := value.(*RunnableTask); task.Interval > 0 {
			m.schedule(task)
		}
		return true
	})
}

// Wait blocks until all schedulers have stopped after the start context was cancelled.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Trigger runs a task in the background, outside its schedule.
func (m *Manager) Trigger(name string) error {
	task, err := m.get(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	go task.Run(ctx)
	return nil
}

// RunNow runs a task synchronously and returns its error.
func (m *Manager) RunNow(ctx context.Context, name string) error {
	task, err := m.get(name)
	if err != nil {
		return err
	}
	return task.Run(ctx)
}

// ListStatus returns the status of every task, sorted by name.
func (m *Manager) ListStatus() []TaskStatus {
	var list []TaskStatus
	m.tasks.Range(func(key, value any) bool {
		task := value.(*RunnableTask)
		list = append(list, task.Status())
		return true
	})
	slices.SortFunc(list, func(a, b TaskStatus) int {
		return strings.Compare(a.Name, b.Name)
	})
	return list
}

func (m *Manager) GetLogs(name string) ([]LogEntry, error) {
	task, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return task.GetLogs(), nil
}

func (m *Manager) get(name string) (*RunnableTask, error) {
	t, ok := m.tasks.Load(name)
	if !ok {
		return nil, core.NotFound("Task `%s` not found", name)
	}
	return t.(*RunnableTask), nil
}

// schedule must be called with m.mu held.
func (m *Manager) schedule(task *RunnableTask) {
	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(task.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug().Str("task", task.Name).Msg("task scheduler stopped")
				return
			case <-ticker.C:
				_ = task.Run(ctx)
			}
		}
	}()
}
