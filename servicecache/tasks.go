package servicecache

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type taskKind int

const (
	taskRefresh taskKind = iota
	taskDispose
)

func (k taskKind) String() string {
	if k == taskRefresh {
		return "refresh"
	}

	return "dispose"
}

// task is a delayed operation on an entry. It refers to the entry by its id
// and name, the cache looks the entry up when the task fires.
type task struct {
	kind    taskKind
	entryID uint64
	name    string
	fireAt  time.Time
	timer   clockwork.Timer
}

type taskQueue struct {
	clock  clockwork.Clock
	run    func(*task)
	mu     sync.Mutex
	tasks  map[*task]struct{}
	closed bool
}

func newTaskQueue(clock clockwork.Clock, run func(*task)) *taskQueue {
	return &taskQueue{
		clock: clock,
		run:   run,
		tasks: make(map[*task]struct{}),
	}
}

func (q *taskQueue) schedule(kind taskKind, e *Entry, after time.Duration) *task {
	t := &task{
		kind:    kind,
		entryID: e.id,
		name:    e.name,
		fireAt:  q.clock.Now().Add(after),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return t
	}

	q.tasks[t] = struct{}{}
	t.timer = q.clock.AfterFunc(after, func() {
		if q.remove(t) {
			q.run(t)
		}
	})

	return t
}

func (q *taskQueue) remove(t *task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[t]; !ok {
		return false
	}

	delete(q.tasks, t)
	return true
}

func (q *taskQueue) cancel(t *task) {
	if t == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[t]; !ok {
		return
	}

	delete(q.tasks, t)
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (q *taskQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
	}

	q.tasks = make(map[*task]struct{})
}

// pending returns the scheduled tasks ordered by their fire time.
func (q *taskQueue) pending() []task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]task, 0, len(q.tasks))
	for t := range q.tasks {
		tasks = append(tasks, *t)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].fireAt.Before(tasks[j].fireAt) })
	return tasks
}
