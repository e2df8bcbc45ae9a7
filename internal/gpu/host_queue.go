package gpu

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// hostQueue executes commands in submission order on one worker
// goroutine. Argument validation happens at submission time; failures
// during execution are reported by the next Finish or blocking call.
type hostQueue struct {
	ctx    *hostContext
	device *hostDevice
	logger *zap.Logger

	tasks chan func() error
	wg    sync.WaitGroup
	done  chan struct{}

	mu       sync.Mutex
	err      error
	released bool
}

func newHostQueue(ctx *hostContext, device *hostDevice) *hostQueue {
	q := &hostQueue{
		ctx:    ctx,
		device: device,
		logger: ctx.backend.logger.With(zap.String("device", device.info.Name)),
		tasks:  make(chan func() error, 64),
		done:   make(chan struct{}),
	}
	go q.worker()
	return q
}

func (q *hostQueue) worker() {
	for task := range q.tasks {
		if err := task(); err != nil {
			q.mu.Lock()
			if q.err == nil {
				q.err = err
			}
			q.mu.Unlock()
			q.logger.Debug("Queued command failed", zap.Error(err))
		}
		q.wg.Done()
	}
	close(q.done)
}

func (q *hostQueue) submit(task func() error) error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return StatusInvalidCommandQueue
	}
	q.wg.Add(1)
	q.mu.Unlock()
	q.tasks <- task
	return nil
}

// submitWait submits task and blocks until it has run.
func (q *hostQueue) submitWait(task func() error) error {
	result := make(chan error, 1)
	if err := q.submit(func() error {
		err := task()
		result <- err
		return err
	}); err != nil {
		return err
	}
	return <-result
}

func (q *hostQueue) enqueue(blocking bool, task func() error) error {
	if blocking {
		return q.submitWait(task)
	}
	return q.submit(task)
}

func (q *hostQueue) Device() Device { return q.device }

func (q *hostQueue) WriteBuffer(m Mem, blocking bool, offset int, src []byte) error {
	hm, err := asHostMem(q.ctx, m)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(src) > hm.size {
		return StatusInvalidValue
	}
	return q.enqueue(blocking, func() error {
		copy(hm.data[offset:], src)
		return nil
	})
}

func (q *hostQueue) ReadBuffer(m Mem, blocking bool, offset int, dst []byte) error {
	hm, err := asHostMem(q.ctx, m)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(dst) > hm.size {
		return StatusInvalidValue
	}
	return q.enqueue(blocking, func() error {
		copy(dst, hm.data[offset:offset+len(dst)])
		return nil
	})
}

func (q *hostQueue) CopyBuffer(src, dst Mem, srcOffset, dstOffset, size int) error {
	hs, err := asHostMem(q.ctx, src)
	if err != nil {
		return err
	}
	hd, err := asHostMem(q.ctx, dst)
	if err != nil {
		return err
	}
	if size <= 0 || srcOffset < 0 || dstOffset < 0 ||
		srcOffset+size > hs.size || dstOffset+size > hd.size {
		return StatusInvalidValue
	}
	if hs == hd && srcOffset < dstOffset+size && dstOffset < srcOffset+size {
		return StatusMemCopyOverlap
	}
	return q.submit(func() error {
		copy(hd.data[dstOffset:dstOffset+size], hs.data[srcOffset:srcOffset+size])
		return nil
	})
}

// MapBuffer hands out the buffer's own storage. A blocking map returns
// once every previously submitted command has completed.
func (q *hostQueue) MapBuffer(m Mem, blocking bool, flags MapFlags, offset, size int) ([]byte, error) {
	hm, err := asHostMem(q.ctx, m)
	if err != nil {
		return nil, err
	}
	if flags&(MapRead|MapWrite) == 0 || size <= 0 || offset < 0 || offset+size > hm.size {
		return nil, StatusInvalidValue
	}
	mapped := hm.addMapping(offset, size)
	if err := q.enqueue(blocking, func() error { return nil }); err != nil {
		_ = hm.removeMapping(mapped)
		return nil, err
	}
	return mapped, nil
}

func (q *hostQueue) UnmapBuffer(m Mem, mapped []byte) error {
	hm, ok := m.(*hostMem)
	if !ok || hm.ctx != q.ctx {
		return StatusInvalidMemObject
	}
	if err := hm.removeMapping(mapped); err != nil {
		return err
	}
	return q.submit(func() error { return nil })
}

func (q *hostQueue) EnqueueNDRange(k Kernel, offset, global, local []int) error {
	hk, ok := k.(*hostKernel)
	if !ok || hk.program.ctx != q.ctx {
		return StatusInvalidKernel
	}
	launch, err := hk.prepare(q.device, offset, global, local)
	if err != nil {
		return err
	}
	run := hk.impl.Run
	return q.submit(func() error {
		if err := run(launch); err != nil {
			return fmt.Errorf("kernel %s: %w", launch.Kernel, err)
		}
		return nil
	})
}

// Flush is a no-op: commands are handed to the worker on submission.
func (q *hostQueue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return StatusInvalidCommandQueue
	}
	return nil
}

// Finish waits for every submitted command and reports the first
// execution failure since the previous Finish.
func (q *hostQueue) Finish() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return StatusInvalidCommandQueue
	}
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.err
	q.err = nil
	return err
}

func (q *hostQueue) Release() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return StatusInvalidCommandQueue
	}
	q.released = true
	q.mu.Unlock()

	q.wg.Wait()
	close(q.tasks)
	<-q.done
	return nil
}
