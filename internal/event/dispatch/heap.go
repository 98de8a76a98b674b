package dispatch

import (
	"time"

	"github.com/dshills/boardlink/internal/event"
)

// parkedTask is a suspended resumable invocation waiting for its due time.
type parkedTask struct {
	inv  event.Invocation
	task event.Task
	due  time.Time
	seq  uint64

	heapIndex int
}

// taskHeap implements heap.Interface ordered by due time, then park order.
type taskHeap []*parkedTask

func (h taskHeap) Len() int {
	return len(h)
}

func (h taskHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*parkedTask)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*h = old[:n-1]
	return item
}

func (h taskHeap) peek() *parkedTask {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
