/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Queue is one repository's bounded pool of tracked issues. It plays
// the same role the teacher's workqueue/dispatcher package plays for a
// generic gRPC work queue - bound concurrency, don't hand out more
// in-flight work than the pool allows, never lose a key - but realized
// as an in-process semaphore over goroutines instead of a distributed
// service, since a single orchestrator process owns one repo's issues
// for its whole lifetime (§5).
//
// An issue occupies a queue slot for every tick it spends outside
// StatePending and outside a terminal state; StatePending and terminal
// issues are "at rest" and never hold a slot, mirroring the teacher's
// distinction between a still-queued key and one an owner has Start-ed.
type Queue struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	issues  map[int]*TrackedIssue
	pending []int // FIFO of issue numbers currently StatePending
	holding map[int]bool
}

// NewQueue builds a queue bounding concurrently-active issues at
// maxConcurrent, per the orchestrator's max_concurrent_issues setting.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		sem:     semaphore.NewWeighted(maxConcurrent),
		issues:  make(map[int]*TrackedIssue),
		holding: make(map[int]bool),
	}
}

// Track adds a newly-polled issue to the queue. It is a no-op - not an
// error - if the issue is already tracked, mirroring poll()'s
// already-tracked skip in §4.1; the bool return tells the caller
// whether this call actually added anything, so poll can still count
// genuinely-new issues.
func (q *Queue) Track(t *TrackedIssue) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.issues[t.Number]; ok {
		return false
	}
	q.issues[t.Number] = t
	if t.State == StatePending {
		q.pending = append(q.pending, t.Number)
	}
	return true
}

// Lookup returns the tracked issue for number, if any.
func (q *Queue) Lookup(number int) (*TrackedIssue, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.issues[number]
	return t, ok
}

// All returns a snapshot of every tracked issue, for the activity log
// and the PR-comment sweep (which must visit pr-open issues regardless
// of queue capacity).
func (q *Queue) All() []*TrackedIssue {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*TrackedIssue, 0, len(q.issues))
	for _, t := range q.issues {
		out = append(out, t)
	}
	return out
}

// Acquire attempts to pull the oldest pending issue off the FIFO and
// reserve it a concurrency slot, non-blocking. The second return value
// is a release func the caller must invoke exactly once, when the
// issue next returns to StatePending or reaches a terminal state -
// holding the slot for the full duration an issue sits in any
// non-pending, non-terminal state is what "max_concurrent issues in
// non-pending/terminal states" (§5) means operationally. ok is false
// if there is no pending work or no free slot; callers must not block
// waiting for one, since a single poll tick only attempts to drain
// one issue (process_next, §4.1).
func (q *Queue) Acquire(ctx context.Context) (*TrackedIssue, func(), bool) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil, nil, false
	}
	number := q.pending[0]
	q.mu.Unlock()

	if !q.sem.TryAcquire(1) {
		return nil, nil, false
	}

	q.mu.Lock()
	// Re-check under lock: another caller may have raced us to the same
	// head (process_next is meant to be called from one goroutine per
	// repo, but Acquire itself stays race-safe regardless).
	if len(q.pending) == 0 || q.pending[0] != number {
		q.mu.Unlock()
		q.sem.Release(1)
		return q.Acquire(ctx)
	}
	q.pending = q.pending[1:]
	t, ok := q.issues[number]
	if !ok {
		q.mu.Unlock()
		q.sem.Release(1)
		return nil, nil, false
	}
	q.holding[number] = true
	q.mu.Unlock()

	released := false
	release := func() {
		q.mu.Lock()
		if released {
			q.mu.Unlock()
			return
		}
		released = true
		delete(q.holding, number)
		q.mu.Unlock()
		q.sem.Release(1)
	}
	return t, release, true
}

// Requeue returns number to the back of the pending FIFO, without
// touching its concurrency slot - the caller releases that separately.
// Used when an issue's state machine sends it back to StatePending
// (e.g. skipped, or a future re-poll cycle).
func (q *Queue) Requeue(number int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.issues[number]
	if !ok {
		return fmt.Errorf("pipeline: requeue of untracked issue #%d", number)
	}
	if t.State != StatePending {
		return fmt.Errorf("pipeline: requeue of issue #%d not in StatePending (got %s)", number, t.State)
	}
	q.pending = append(q.pending, number)
	return nil
}

// ActiveCount reports how many issues currently hold a concurrency
// slot, for the activity log and diagnostics.
func (q *Queue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.holding)
}

// PendingCount reports how many issues are waiting for a slot.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
