// internal/sched/queue.go

package sched

import (
	"errors"

	"github.com/emirpasic/gods/trees/binaryheap"
)

// ErrQueueFull is returned by ReadyQueue.Push at capacity.
var ErrQueueFull = errors.New("ready queue full")

// ReadyQueue is a bounded max-heap of runnable tasks ordered by
// (priority, sequence).
type ReadyQueue struct {
	heap     *binaryheap.Heap
	capacity int
}

// NewReadyQueue creates an empty queue holding at most capacity tasks.
func NewReadyQueue(capacity int) *ReadyQueue {
	return &ReadyQueue{
		heap:     binaryheap.NewWith(byUrgency),
		capacity: capacity,
	}
}

// Push inserts t, or fails with ErrQueueFull leaving the queue untouched.
func (q *ReadyQueue) Push(t *Task) error {
	if q.heap.Size() >= q.capacity {
		return ErrQueueFull
	}
	q.heap.Push(t)
	return nil
}

// Pop removes and returns the most urgent task, or nil.
func (q *ReadyQueue) Pop() *Task {
	v, ok := q.heap.Pop()
	if !ok {
		return nil
	}
	return v.(*Task)
}

// Peek returns the most urgent task without removing it, or nil.
func (q *ReadyQueue) Peek() *Task {
	v, ok := q.heap.Peek()
	if !ok {
		return nil
	}
	return v.(*Task)
}

func (q *ReadyQueue) Len() int { return q.heap.Size() }
func (q *ReadyQueue) Cap() int { return q.capacity }

// Contains reports whether a task with the given id is queued.
func (q *ReadyQueue) Contains(id TaskID) bool {
	it := q.heap.Iterator()
	for it.Next() {
		if it.Value().(*Task).ID == id {
			return true
		}
	}
	return false
}

// byUrgency orders gods' min-heap so that the greatest (priority, seq) pair
// surfaces first.
func byUrgency(a, b any) int {
	ta, tb := a.(*Task), b.(*Task)
	switch {
	case ta.Priority > tb.Priority:
		return -1
	case ta.Priority < tb.Priority:
		return 1
	case ta.seq > tb.seq:
		return -1
	case ta.seq < tb.seq:
		return 1
	default:
		return 0
	}
}
