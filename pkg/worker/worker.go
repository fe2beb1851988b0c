package worker

import (
	"sync"

	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

type WorkerManager struct {
	bufferSize     int
	jobChannel     chan interface{}
	numberOfWorker int
	do             WorkerHandler
	waiter         *sync.WaitGroup
	closeOnce      sync.Once
}

// NewWorkerManager
// is a job manager based on go routines. Define the number of internal
// workers, start them with Start(), and publish jobs using Enqueue(). Jobs are
// distributed among the internal pool. Close() ends the batch: workers drain
// whatever is still queued and exit, and Wait() returns once the last job is
// done.
func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}

	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	if w.jobChannel == nil {
		return 0
	}
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) JobEvents() chan interface{} {
	return w.jobChannel
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue
// Publishes a job onto the channel. Must not be called after Close().
func (w *WorkerManager) Enqueue(val interface{}) {
	w.jobChannel <- val
}

// Start
// starts off the workers as many as defined by w.numberOfWorker and returns
// immediately.
func (w *WorkerManager) Start() {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for job := range w.jobChannel {
				w.do(index, job)
			}
		}(i)
	}
}

// Close
// stops accepting jobs. Queued jobs are still processed.
func (w *WorkerManager) Close() {
	w.closeOnce.Do(func() {
		close(w.jobChannel)
	})
}

// Wait
// blocks until every worker has drained the channel and exited.
func (w *WorkerManager) Wait() {
	w.waiter.Wait()
}

// Run
// processes one batch of jobs with bounded concurrency and returns when all
// of them are done.
func Run(numberOfWorkers int, jobs []interface{}, do WorkerHandler) {
	if len(jobs) == 0 {
		return
	}
	m := NewWorkerManager(len(jobs), numberOfWorkers, nil)
	m.SetWorker(do)
	m.Start()
	for _, job := range jobs {
		m.Enqueue(job)
	}
	m.Close()
	m.Wait()
	logger.Debug("worker batch drained", "jobs", len(jobs), "workers", numberOfWorkers)
}
