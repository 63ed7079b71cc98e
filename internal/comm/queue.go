// internal/comm/queue.go
package comm

import "container/heap"

// opQueue is a min-heap of operations ordered by priority, then enqueue
// sequence. Not safe for concurrent use; the scheduler guards it.
type opQueue []*Operation

func (q opQueue) Len() int { return len(q) }

func (q opQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q opQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *opQueue) Push(x any) {
	op := x.(*Operation)
	op.index = len(*q)
	*q = append(*q, op)
}

func (q *opQueue) Pop() any {
	old := *q
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	op.index = -1
	*q = old[:n-1]
	return op
}

func (q *opQueue) push(op *Operation) { heap.Push(q, op) }

func (q *opQueue) pop() *Operation { return heap.Pop(q).(*Operation) }

// remove takes op out of the queue. It reports false if op is not queued.
func (q *opQueue) remove(op *Operation) bool {
	if op.index < 0 || op.index >= len(*q) || (*q)[op.index] != op {
		return false
	}
	heap.Remove(q, op.index)
	return true
}
