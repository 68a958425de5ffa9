// Package dispatcher serializes the execution of command units of work.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arriba-labs/battlebot/internal/logger"
	"github.com/arriba-labs/battlebot/internal/notify"
)

// ErrorMessage is the only text a requester ever sees when a unit fails.
const ErrorMessage = "An error occurred while executing your command. Please notify an Admin."

// followupTimeout bounds the best-effort error notification.
const followupTimeout = 10 * time.Second

// Trigger is the context a unit of work was submitted from. It is only used
// to tell the requester that their command failed.
type Trigger interface {
	// ResponseDone reports whether the original request was already answered.
	ResponseDone() bool
	// SendEphemeral sends a message only the requester can see.
	SendEphemeral(ctx context.Context, content string) error
}

// Work is a unit of work. It runs to completion; the queue never preempts it.
type Work func(ctx context.Context) error

// job pairs a unit of work with the trigger that submitted it.
type job struct {
	id          string
	trigger     Trigger
	work        Work
	submittedAt time.Time
}

// Queue runs submitted units one at a time in submission order on a single
// background goroutine.
type Queue struct {
	log *logger.Logger

	mu      sync.Mutex
	pending []*job
	running bool

	// Wakes the loop when a job is submitted. Buffered so Submit never blocks.
	notifyCh chan struct{}

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatch queue. Call Start to begin executing jobs.
func New(log *logger.Logger) *Queue {
	return &Queue{
		log:      log.With("component", "dispatcher"),
		notifyCh: make(chan struct{}, 1),
	}
}

// Start begins the execution loop.
func (q *Queue) Start(parentCtx context.Context) {
	q.ctx, q.cancel = context.WithCancel(parentCtx)

	q.wg.Add(1)
	go q.loop()

	q.log.Info("command dispatcher started")
}

// Stop ends the loop after the job in flight, if any, returns. Jobs still
// pending are dropped.
func (q *Queue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	q.log.Info("command dispatcher stopped", "dropped", dropped)
}

// Submit enqueues work and returns its job id immediately. trigger may be nil
// for work that has nobody to notify.
func (q *Queue) Submit(trigger Trigger, work Work) string {
	j := &job{
		id:          uuid.New().String(),
		trigger:     trigger,
		work:        work,
		submittedAt: time.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	// Non-blocking send - if a wake-up is already pending the loop will see this job too
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return j.id
}

// Pending returns the number of jobs waiting behind the one in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a job is executing right now.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) loop() {
	defer q.wg.Done()

	for {
		// Checked before popping so Stop counts every job that never ran
		if q.ctx.Err() != nil {
			q.setIdle()
			return
		}

		j := q.next()
		if j == nil {
			select {
			case <-q.ctx.Done():
			case <-q.notifyCh:
			}
			continue
		}
		q.execute(j)
	}
}

func (q *Queue) setIdle() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
}

// next pops the oldest pending job and marks the queue as executing.
func (q *Queue) next() *job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.running = false
		return nil
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.running = true
	return j
}

// execute runs one job and handles its failure. It never panics.
func (q *Queue) execute(j *job) {
	log := q.log.With("job_id", j.id)
	log.Debug("executing job", "waited", time.Since(j.submittedAt))

	err := q.run(j)
	switch {
	case err == nil:
		log.Debug("job completed")
	case errors.Is(err, notify.ErrNotFound):
		log.Critical("failed to respond to interaction", "error", err)
		q.sendFollowup(log, j.trigger)
	default:
		log.Critical("unexpected error", "error", err)
		q.sendFollowup(log, j.trigger)
	}
}

// run invokes the unit of work, converting a panic into an error.
func (q *Queue) run(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return j.work(q.ctx)
}

// sendFollowup makes one attempt to tell the requester their command failed.
func (q *Queue) sendFollowup(log *logger.Logger, trigger Trigger) {
	if trigger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), followupTimeout)
	defer cancel()

	if err := trigger.SendEphemeral(ctx, ErrorMessage); err != nil {
		log.Critical("failed to send follow-up message", "error", err, "response_done", trigger.ResponseDone())
	}
}
