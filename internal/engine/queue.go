// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bandworks/chartsync/internal/models"
)

// Job kinds, the first half of the dedup key.
const (
	jobKindSync   = "sync"
	jobKindChange = "change"
)

// job is one queued unit of work. Sync jobs carry their targets and the
// canonical folder; change jobs carry the raw notification and are
// re-resolved when they run.
type job struct {
	id           uuid.UUID
	kind         string
	scope        string
	userIDs      []string
	folderID     string
	forceFull    bool
	notification *models.ChangeNotification
	enqueuedAt   time.Time
}

// key is the dedup identity: two jobs with the same kind and scope are the
// same work.
func (j *job) key() string {
	return j.kind + ":" + j.scope
}

func newSyncJob(scope, folderID string, userIDs []string, forceFull bool) *job {
	return &job{
		id:         uuid.New(),
		kind:       jobKindSync,
		scope:      scope,
		userIDs:    userIDs,
		folderID:   folderID,
		forceFull:  forceFull,
		enqueuedAt: time.Now(),
	}
}

func newChangeJob(n *models.ChangeNotification) *job {
	return &job{
		id:           uuid.New(),
		kind:         jobKindChange,
		scope:        n.ResourceID,
		notification: n,
		enqueuedAt:   time.Now(),
	}
}

// queue is an unbounded FIFO with drop-duplicate semantics: a job's dedup
// key stays held from enqueue until release, which the worker calls after
// the pass finishes, so identical events are dropped while one is queued
// OR in flight.
type queue struct {
	mu   sync.Mutex
	jobs []*job
	keys map[string]uuid.UUID
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{
		keys: make(map[string]uuid.UUID),
		wake: make(chan struct{}, 1),
	}
}

// enqueue appends a job unless its key is already held. Returns the ID of
// the job now covering this key and whether the given job was accepted.
func (q *queue) enqueue(j *job) (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if id, dup := q.keys[j.key()]; dup {
		return id, false
	}

	q.keys[j.key()] = j.id
	q.jobs = append(q.jobs, j)
	q.nudge()
	return j.id, true
}

// pop removes and returns the head job, or nil when the queue is empty.
// The job's key stays held until release.
func (q *queue) pop() *job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}

	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]

	// The wake channel holds one signal for any backlog size, so hand the
	// signal on while work remains; otherwise a second idle worker could
	// sleep through it.
	if len(q.jobs) > 0 {
		q.nudge()
	}
	return j
}

// release frees a job's dedup key after its pass has finished.
func (q *queue) release(j *job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.keys[j.key()] == j.id {
		delete(q.keys, j.key())
	}
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// nudge wakes one waiting worker. Callers hold q.mu.
func (q *queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
