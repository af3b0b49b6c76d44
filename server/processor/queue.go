package processor

import (
	"fmt"
	"sync"
	"time"
)

// ProcessingQueue runs queued analysis jobs on a fixed set of workers.
type ProcessingQueue struct {
	items      chan *QueueItem
	workers    int
	workerFunc func(*QueueItem)
	onPanic    func(*QueueItem, interface{})
	wg         sync.WaitGroup
	isRunning  bool
	mutex      sync.RWMutex
}

type QueueItem struct {
	Target     Target
	EnqueuedAt time.Time
}

func NewProcessingQueue(queueSize, workers int, workerFunc func(*QueueItem), onPanic func(*QueueItem, interface{})) *ProcessingQueue {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	queue := &ProcessingQueue{
		items:      make(chan *QueueItem, queueSize),
		workers:    workers,
		workerFunc: workerFunc,
		onPanic:    onPanic,
		isRunning:  true,
	}

	for i := 0; i < workers; i++ {
		queue.wg.Add(1)
		go queue.worker(i)
	}

	return queue
}

// worker drains items until the channel is closed, so every accepted job
// runs to completion even during shutdown.
func (pq *ProcessingQueue) worker(id int) {
	defer pq.wg.Done()

	for item := range pq.items {
		if item == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil && pq.onPanic != nil {
					pq.onPanic(item, r)
				}
			}()

			pq.workerFunc(item)
		}()
	}
}

// Enqueue hands item to a worker without blocking. It reports false when
// the queue is full or shutting down.
func (pq *ProcessingQueue) Enqueue(item *QueueItem) bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	if !pq.isRunning {
		return false
	}

	select {
	case pq.items <- item:
		return true
	default:
		return false
	}
}

func (pq *ProcessingQueue) Size() int {
	return len(pq.items)
}

func (pq *ProcessingQueue) Capacity() int {
	return cap(pq.items)
}

func (pq *ProcessingQueue) IsRunning() bool {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()
	return pq.isRunning
}

func (pq *ProcessingQueue) Workers() int {
	return pq.workers
}

// Shutdown stops accepting jobs and waits up to timeout for the queued and
// running ones to finish.
func (pq *ProcessingQueue) Shutdown(timeout time.Duration) error {
	pq.mutex.Lock()
	if !pq.isRunning {
		pq.mutex.Unlock()
		return nil
	}
	pq.isRunning = false
	close(pq.items)
	pq.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		pq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (pq *ProcessingQueue) GetQueueStats() QueueStats {
	pq.mutex.RLock()
	defer pq.mutex.RUnlock()

	return QueueStats{
		CurrentSize:        pq.Size(),
		MaxCapacity:        pq.Capacity(),
		ActiveWorkers:      pq.workers,
		IsRunning:          pq.isRunning,
		UtilizationPercent: float64(pq.Size()) / float64(pq.Capacity()) * 100,
	}
}

type QueueStats struct {
	CurrentSize        int     `json:"current_size"`
	MaxCapacity        int     `json:"max_capacity"`
	ActiveWorkers      int     `json:"active_workers"`
	IsRunning          bool    `json:"is_running"`
	UtilizationPercent float64 `json:"utilization_percent"`
}
