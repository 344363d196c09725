package worker

import (
	"errors"
	"hash/fnv"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/nimasrn/number-market/pkg/logger"
)

var ErrTerminated = errors.New("workers terminated")

type WorkerHandler = func(workerIndex int, job interface{})

// WorkerManager runs a fixed pool of goroutines. Jobs sent with Enqueue go
// to whichever worker is free; jobs sent with EnqueueKeyed always land on
// the same worker for the same key, so they run one at a time and in order.
type WorkerManager struct {
	bufferSize     int
	jobChannel     chan interface{}
	keyed          []chan interface{}
	numberOfWorker int
	sigTerm        chan os.Signal
	quit           chan struct{}
	quitOnce       sync.Once
	do             WorkerHandler
	waiter         *sync.WaitGroup
	pending        atomic.Int64
}

// NewWorkerManager builds the pool. jobChannel may be nil; a buffered one is
// made. SIGTERM stops the workers as Exit does.
func NewWorkerManager(bufferSize, numberOfWorkers int, jobChannel chan interface{}) *WorkerManager {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	if jobChannel == nil {
		jobChannel = make(chan interface{}, bufferSize)
	}
	keyed := make([]chan interface{}, numberOfWorkers)
	for i := range keyed {
		keyed[i] = make(chan interface{}, bufferSize/numberOfWorkers+1)
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)

	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     jobChannel,
		keyed:          keyed,
		sigTerm:        sigChan,
		quit:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return w.pending.Load()
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

func (w *WorkerManager) Enqueue(val interface{}) {
	w.pending.Add(1)
	w.jobChannel <- val
}

// EnqueueKeyed serialises every job sharing key on one worker.
func (w *WorkerManager) EnqueueKeyed(key string, val interface{}) {
	w.pending.Add(1)
	w.keyed[w.slot(key)] <- val
}

func (w *WorkerManager) slot(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(w.numberOfWorker))
}

// Start runs the workers and blocks until Exit or SIGTERM.
func (w *WorkerManager) Start() error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go w.run(i)
	}
	go func() {
		select {
		case <-w.sigTerm:
			w.Exit()
		case <-w.quit:
		}
	}()
	w.waiter.Wait()
	return ErrTerminated
}

func (w *WorkerManager) run(index int) {
	defer w.waiter.Done()
	own := w.keyed[index]
	for {
		// own queue first so keyed jobs are not starved by the shared one
		select {
		case job := <-own:
			w.handle(index, job)
			continue
		default:
		}
		select {
		case job := <-own:
			w.handle(index, job)
		case job := <-w.jobChannel:
			w.handle(index, job)
		case <-w.quit:
			return
		}
	}
}

func (w *WorkerManager) handle(index int, job interface{}) {
	defer w.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker job panicked", "worker", index, "panic", r)
		}
	}()
	w.do(index, job)
}

// Exit stops every worker. Jobs still buffered are dropped.
func (w *WorkerManager) Exit() {
	w.quitOnce.Do(func() {
		logger.Info("Exit() is called and worker manager is going to be shutdown")
		signal.Stop(w.sigTerm)
		close(w.quit)
	})
}
