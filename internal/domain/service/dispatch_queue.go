package service

import (
	"container/list"
	"time"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
)

// dispatchQueue is a bounded FIFO of waiting entries. It is not safe for concurrent use;
// the scheduler guards it with its own mutex.
type dispatchQueue struct {
	items *list.List
	max   int
}

func newDispatchQueue(max int) *dispatchQueue {
	return &dispatchQueue{items: list.New(), max: max}
}

func (q *dispatchQueue) Len() int { return q.items.Len() }

func (q *dispatchQueue) Full() bool { return q.items.Len() >= q.max }

func (q *dispatchQueue) Push(e *models.QueueEntry) { q.items.PushBack(e) }

// Pop removes and returns the oldest entry, or nil when empty.
func (q *dispatchQueue) Pop() *models.QueueEntry {
	front := q.items.Front()
	if front == nil {
		return nil
	}
	return q.items.Remove(front).(*models.QueueEntry)
}

// RemoveExpired removes every entry older than ttl and returns them in FIFO order.
func (q *dispatchQueue) RemoveExpired(now time.Time, ttl time.Duration) []*models.QueueEntry {
	var expired []*models.QueueEntry
	for el := q.items.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*models.QueueEntry)
		if entry.Expired(now, ttl) {
			q.items.Remove(el)
			expired = append(expired, entry)
		}
		el = next
	}
	return expired
}

// RemoveAll empties the queue and returns what it held.
func (q *dispatchQueue) RemoveAll() []*models.QueueEntry {
	out := make([]*models.QueueEntry, 0, q.items.Len())
	for e := q.Pop(); e != nil; e = q.Pop() {
		out = append(out, e)
	}
	return out
}
