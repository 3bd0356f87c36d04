package scheduler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mfbutner/pl-autograders/internal/logger"
	"github.com/mfbutner/pl-autograders/pkg/constants"
)

// Job handles one index. It owns the result slot for that index.
type Job func(ctx context.Context, index int)

type Scheduler interface {
	// Run calls job once for every index in [0, n) and returns when all calls
	// have returned. Indices are handed out in ascending order to at most
	// MaxWorkers goroutines.
	Run(ctx context.Context, n int, job Job)
	GetWorkersStatus() map[string]interface{}
	MaxWorkers() int
}

type worker struct {
	id              int
	status          constants.WorkerStatus
	processingIndex int
}

type scheduler struct {
	mu               sync.Mutex
	busyWorkersCount int
	workers          map[int]*worker
	maxWorkers       int
	logger           *zap.SugaredLogger
}

func NewScheduler(maxWorkers int) Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	workers := make(map[int]*worker, maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		workers[i] = &worker{id: i, status: constants.WorkerStatusIdle}
	}

	return &scheduler{
		workers:    workers,
		maxWorkers: maxWorkers,
		logger:     logger.NewNamedLogger("scheduler"),
	}
}

func (s *scheduler) MaxWorkers() int {
	return s.maxWorkers
}

func (s *scheduler) Run(ctx context.Context, n int, job Job) {
	if n <= 0 {
		return
	}

	poolSize := min(s.maxWorkers, n)
	indices := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			for idx := range indices {
				s.markWorkerAsBusy(w, idx)
				s.runJob(ctx, w, idx, job)
				s.markWorkerAsIdle(w)
			}
		}(s.workers[i])
	}

	for i := 0; i < n; i++ {
		indices <- i
	}
	close(indices)
	wg.Wait()
}

func (s *scheduler) runJob(ctx context.Context, w *worker, idx int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Job %d panicked on worker %d: %v", idx, w.id, r)
		}
	}()
	job(ctx, idx)
}

func (s *scheduler) GetWorkersStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[int]string, len(s.workers))
	for id, w := range s.workers {
		if w.status == constants.WorkerStatusBusy {
			statuses[id] = fmt.Sprintf("%s running test %d", w.status, w.processingIndex+1)
			continue
		}
		statuses[id] = w.status.String()
	}

	return map[string]interface{}{
		"busy_workers":  s.busyWorkersCount,
		"total_workers": s.maxWorkers,
		"worker_status": statuses,
	}
}

func (s *scheduler) markWorkerAsBusy(w *worker, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.status = constants.WorkerStatusBusy
	w.processingIndex = idx
	s.busyWorkersCount++
}

func (s *scheduler) markWorkerAsIdle(w *worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.status = constants.WorkerStatusIdle
	w.processingIndex = 0
	s.busyWorkersCount--
}
