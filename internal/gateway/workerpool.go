package gateway

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// taskChanSize mirrors internal/worker.go's TASK_CHAN_SIZE.
const taskChanSize = 100

// WorkerFunction processes one task; adapted from internal/worker.go's
// WorkerFunction (there hardwired to net.Conn tasks).
type WorkerFunction func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of goroutines draining a shared task
// channel, exactly the shape of internal/worker.go's WorkerPool.
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool creates a pool sized for size concurrent workers.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{tasks: make(chan any, taskChanSize), n: size}
}

// AddTask enqueues a unit of work for the next free worker.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup keeps pool.n workers alive under t until t starts dying,
// restarting any worker that exits so the pool stays at full size.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("gateway: starting worker pool")
	active := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if active < pool.n {
				t.Go(func() error {
					err := pool.worker(t, work)
					active--
					return err
				})
				active++
			}
		}
	}
}

func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	select {
	case <-t.Dying():
		return nil
	case task := <-pool.tasks:
		if err := work(t, task); err != nil {
			log.Error().Err(err).Msg("gateway: worker exiting on error")
			return err
		}
	}
	return nil
}
