package worker

import (
	"container/heap"
	"time"
)

// dueItem is one scheduled source poll
type dueItem struct {
	sourceID string
	due      time.Time
	index    int
}

// dueQueue is a min-heap of polls ordered by due time
type dueQueue []*dueItem

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].sourceID < q[j].sourceID
	}
	return q[i].due.Before(q[j].due)
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	item := x.(*dueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// schedule adds a poll for id at due
func (q *dueQueue) schedule(id string, due time.Time) {
	heap.Push(q, &dueItem{sourceID: id, due: due})
}

// peek returns the earliest poll without removing it
func (q dueQueue) peek() (*dueItem, bool) {
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}

// popDue removes and returns the earliest poll if it is due at now
func (q *dueQueue) popDue(now time.Time) (*dueItem, bool) {
	item, ok := q.peek()
	if !ok || item.due.After(now) {
		return nil, false
	}
	return heap.Pop(q).(*dueItem), true
}
