package streaming

import (
	"context"
	"sync"
)

// FanOutWriter broadcasts every write to all currently registered readers.
// Readers created after a write do not see past items. Each
// reader has its own bounded queue, and the writer hands each item to
// every reader concurrently, so a fast reader receives it without waiting
// behind a slow one. A write returns only once every reader has accepted
// the item, so the writer blocks while any one reader's queue is full and
// later writes to every reader wait with it; no item is dropped.
type FanOutWriter[T any] struct {
	mu       sync.Mutex
	readers  map[int]*chanSource[T]
	nextID   int
	closed   bool
	queueCap int
}

// NewFanOutWriter creates a fan-out writer whose readers are each given a
// bounded queue of queueCap items.
func NewFanOutWriter[T any](queueCap int) *FanOutWriter[T] {
	if queueCap <= 0 {
		queueCap = 1
	}
	return &FanOutWriter[T]{readers: make(map[int]*chanSource[T]), queueCap: queueCap}
}

// readerHandle lets a caller drop its registration (e.g. client disconnect)
// without waiting for the underlying Source to be Closed.
type readerHandle struct {
	unregister func()
}

func (h *readerHandle) Unregister() { h.unregister() }

// NewReader registers a new reader and returns its Source plus a handle to
// unregister it independent of closing the Source.
func (w *FanOutWriter[T]) NewReader() (Source[T], *readerHandle) {
	_, src, handle := w.NewReaderWithID()
	return src, handle
}

// NewReaderWithID is like NewReader but also returns the reader's internal
// id, so a caller that wants to exclude one particular reader from a
// broadcast (e.g. the sender of the message being fanned out) can pass the
// id back to WriteExcept.
func (w *FanOutWriter[T]) NewReaderWithID() (int, Source[T], *readerHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	cs := newChanSource[T](w.queueCap)
	if w.closed {
		cs.Close()
		return id, cs, &readerHandle{unregister: func() {}}
	}
	w.readers[id] = cs
	return id, cs, &readerHandle{unregister: func() { w.removeReader(id) }}
}

func (w *FanOutWriter[T]) removeReader(id int) {
	w.mu.Lock()
	cs, ok := w.readers[id]
	delete(w.readers, id)
	w.mu.Unlock()
	if ok {
		cs.Close()
	}
}

// Write delivers item to every currently registered reader. It returns
// once every reader has accepted the item into its queue, or ctx is
// cancelled.
func (w *FanOutWriter[T]) Write(ctx context.Context, item T) error {
	return w.WriteExcept(ctx, item, -1)
}

// WriteExcept is like Write but skips the reader identified by excludeID
// (the id returned by NewReaderWithID), e.g. so a sender does not receive
// its own broadcast back. Pass a negative id to target every reader.
func (w *FanOutWriter[T]) WriteExcept(ctx context.Context, item T, excludeID int) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*chanSource[T], 0, len(w.readers))
	for id, cs := range w.readers {
		if id == excludeID {
			continue
		}
		targets = append(targets, cs)
	}
	w.mu.Unlock()

	if len(targets) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, cs := range targets {
		wg.Add(1)
		go func(i int, cs *chanSource[T]) {
			defer wg.Done()
			select {
			case cs.ch <- item:
			case <-cs.closed:
				// reader went away mid-delivery; not an error for the writer
			case <-ctx.Done():
				errs[i] = ctx.Err()
			}
		}(i, cs)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ReaderCount returns the number of currently registered readers.
func (w *FanOutWriter[T]) ReaderCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.readers)
}

// Close closes every reader's Source (delivering io.EOF to their Next
// calls after any buffered items drain) and rejects further NewReader/Write
// calls.
func (w *FanOutWriter[T]) Close() error {
	w.mu.Lock()
	w.closed = true
	readers := w.readers
	w.readers = make(map[int]*chanSource[T])
	w.mu.Unlock()
	for _, cs := range readers {
		cs.Close()
	}
	return nil
}
