// Package jobs writes sync requests to the pending-sync queue.
package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/arriba-labs/battlebot/internal/model"
	"github.com/arriba-labs/battlebot/internal/store"
)

// ErrJobAlreadyExists is returned when a sync for the username is already pending.
var ErrJobAlreadyExists = errors.New("sync already queued for user")

// ErrInvalidUsername is returned for an empty username.
var ErrInvalidUsername = errors.New("username is required")

// Queue provides helper methods for enqueueing sync requests.
type Queue struct {
	store      *store.Store
	notifyFunc func() // Called after an item is written to wake the worker
}

// NewQueue creates a new sync queue helper.
func NewQueue(s *store.Store) *Queue {
	return &Queue{store: s}
}

// SetNotifyFunc sets the function to call after an item is queued.
// This is typically worker.Kick.
func (q *Queue) SetNotifyFunc(f func()) {
	q.notifyFunc = f
}

// notify calls the notify function if set.
func (q *Queue) notify() {
	if q.notifyFunc != nil {
		q.notifyFunc()
	}
}

// NormalizeUsername trims and lower-cases a username the way it is stored.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// EnqueueSync queues a sync of username on behalf of requesterID and returns
// the stored item. Returns ErrJobAlreadyExists if the user is already queued.
func (q *Queue) EnqueueSync(ctx context.Context, username, requesterID string) (*model.QueueItem, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	exists, err := q.store.HasQueuedUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrJobAlreadyExists
	}

	item := &model.QueueItem{
		Username:    username,
		RequesterID: requesterID,
	}
	if err := q.store.EnqueueSync(ctx, item); err != nil {
		return nil, err
	}

	q.notify()
	return item, nil
}

// Position returns the 1-based position of item in the queue.
func (q *Queue) Position(ctx context.Context, item *model.QueueItem) (int64, error) {
	return q.store.QueuePosition(ctx, item.ID)
}
