// Package worker drains the pending-sync queue, pulling each user's new
// BattleBall matches into the store and keeping the leaderboard display
// current.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arriba-labs/battlebot/internal/config"
	"github.com/arriba-labs/battlebot/internal/habbo"
	"github.com/arriba-labs/battlebot/internal/leaderboard"
	"github.com/arriba-labs/battlebot/internal/logger"
	"github.com/arriba-labs/battlebot/internal/model"
	"github.com/arriba-labs/battlebot/internal/notify"
	"github.com/arriba-labs/battlebot/internal/store"
)

// DataSource is the external match history provider.
type DataSource interface {
	FetchUserProfile(ctx context.Context, username string) (*habbo.Profile, error)
	FetchMatchIDs(ctx context.Context, playerID string) ([]string, error)
	FetchMatchDetails(ctx context.Context, ids []string) ([]habbo.Match, error)
}

// Notifier delivers direct messages and the leaderboard display.
type Notifier interface {
	SendDirectMessage(ctx context.Context, recipientID, text string) error
	FetchDisplay(ctx context.Context, channelID, messageID string) error
	PublishDisplay(ctx context.Context, channelID string, display notify.Display) (string, error)
	EditDisplay(ctx context.Context, channelID, messageID string, display notify.Display) error
}

// Worker synchronizes one queued user at a time. Construct it once and share
// it with everything that submits sync requests.
type Worker struct {
	store    *store.Store
	source   DataSource
	notifier Notifier
	syncCfg  config.SyncConfig
	board    config.LeaderboardConfig
	logger   *logger.Logger

	running atomic.Bool
	stopped atomic.Bool

	// Progress of the user in flight
	mu          sync.Mutex
	currentUser string
	remaining   int

	// Serializes display updates from the worker and the refresh loop
	displayMu sync.Mutex

	// Cancelled only when a bounded Shutdown gives up waiting
	abortCtx context.Context
	abort    context.CancelFunc

	kickChan     chan struct{}
	stopChan     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a worker. A batch size below 1 is treated as 1.
func New(
	s *store.Store,
	source DataSource,
	notifier Notifier,
	syncCfg config.SyncConfig,
	boardCfg config.LeaderboardConfig,
	log *logger.Logger,
) *Worker {
	if syncCfg.BatchSize < 1 {
		syncCfg.BatchSize = 1
	}
	abortCtx, abort := context.WithCancel(context.Background())
	return &Worker{
		store:    s,
		source:   source,
		notifier: notifier,
		syncCfg:  syncCfg,
		board:    boardCfg,
		logger:   log.With("component", "sync_worker"),
		abortCtx: abortCtx,
		abort:    abort,
		kickChan: make(chan struct{}, 1), // Buffered to allow non-blocking kicks
		stopChan: make(chan struct{}),
	}
}

// Kick asks the Run loop to drain the queue now.
func (w *Worker) Kick() {
	select {
	case w.kickChan <- struct{}{}:
		w.logger.Debug("worker kicked")
	default:
		// Channel already has a kick pending, no need to add another
	}
}

// Run drains the queue on every kick and every poll interval until ctx is
// cancelled or Stop is called. Cancelling ctx never interrupts the user in
// flight; Run returns once that user is finished.
func (w *Worker) Run(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	interval := w.syncCfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("sync worker started", "poll_interval", interval, "batch_size", w.syncCfg.BatchSize)

	// Pick up anything left over from a previous run.
	w.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopped: context cancelled")
			return nil
		case <-w.stopChan:
			w.logger.Info("sync worker stopped: shutdown signal")
			return nil
		case <-w.kickChan:
			w.Start(ctx)
		case <-ticker.C:
			w.Start(ctx)
		}
	}
}

// Start drains the pending-sync queue, processing users in the order they
// were queued. It returns false without doing anything if a drain is already
// in progress.
//
// ctx only decides whether the next user is started. The user in flight runs
// on a context that is cancelled solely by an expired Shutdown, in which case
// its queue item is kept for the next run.
func (w *Worker) Start(ctx context.Context) bool {
	if !w.running.CompareAndSwap(false, true) {
		w.logger.Debug("drain already in progress")
		return false
	}
	defer w.running.Store(false)

	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopAbort := context.AfterFunc(w.abortCtx, cancel)
	defer stopAbort()

	processed := 0
	for !w.stopped.Load() && ctx.Err() == nil {
		item, err := w.store.GetNextQueued(work)
		if err != nil {
			w.logger.Error("failed to read sync queue", "error", err)
			break
		}
		if item == nil {
			break
		}

		w.processUser(work, item)

		if work.Err() != nil {
			w.logger.Warn("sync aborted by shutdown, keeping queue item", "queue_id", item.ID, "username", item.Username)
			break
		}

		// At-most-once: the item is dropped whatever the outcome.
		if err := w.store.RemoveQueued(work, item.ID); err != nil {
			w.logger.Error("failed to remove queue item", "queue_id", item.ID, "error", err)
			break
		}
		processed++

		if !w.pause(ctx) {
			break
		}
	}

	if processed > 0 {
		w.logger.Info("sync queue drained", "processed", processed)
		if ctx.Err() == nil && work.Err() == nil {
			_ = w.CreateOrUpdateLeaderboardDisplay(work)
		}
	}
	return true
}

// Stop ends the Run loop and any drain after the user in flight finishes.
func (w *Worker) Stop() {
	w.shutdownOnce.Do(func() {
		w.logger.Info("shutting down sync worker")
		w.stopped.Store(true)
		close(w.stopChan)
	})
}

// Shutdown stops the worker and waits for Run to return. If ctx expires
// first, the user in flight is aborted and its queue item is left in place.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.Stop()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("sync worker shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Error("sync worker shutdown timeout, aborting user in flight")
		w.abort()
		<-done
		return fmt.Errorf("sync worker shutdown timeout exceeded")
	}
}

// Running reports whether a drain is in progress.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// pause waits ItemDelay between queue items. It returns false if the worker
// was stopped while waiting.
func (w *Worker) pause(ctx context.Context) bool {
	if w.syncCfg.ItemDelay <= 0 {
		return true
	}
	timer := time.NewTimer(w.syncCfg.ItemDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	}
}

// processUser runs one full incremental sync for a queue item. Failures abort
// only this item; matches already recorded are kept.
func (w *Worker) processUser(ctx context.Context, item *model.QueueItem) {
	started := time.Now()
	username := strings.ToLower(item.Username)
	log := w.logger.With("username", username, "queue_id", item.ID)

	if err := w.store.AddUserIfAbsent(ctx, username); err != nil {
		log.Error("failed to create user", "error", err)
		w.notifyFailure(ctx, item.RequesterID, username)
		return
	}
	userID, err := w.store.GetUserID(ctx, username)
	if err != nil {
		log.Error("user id not found", "error", err)
		w.notifyFailure(ctx, item.RequesterID, username)
		return
	}

	w.setProgress(username, 0)
	defer w.setProgress("", 0)

	profile, err := w.source.FetchUserProfile(ctx, username)
	if err != nil {
		log.Error("user profile not found", "error", err)
		w.notifyFailure(ctx, item.RequesterID, username)
		return
	}
	playerID := profile.BouncerPlayerID

	matchIDs, err := w.source.FetchMatchIDs(ctx, playerID)
	if err != nil {
		log.Error("failed to list match ids", "player_id", playerID, "error", err)
		w.notifyFailure(ctx, item.RequesterID, username)
		return
	}

	checked, err := w.store.GetCheckedMatchIDs(ctx, userID)
	if err != nil {
		log.Error("failed to load recorded matches", "error", err)
		w.notifyFailure(ctx, item.RequesterID, username)
		return
	}

	newIDs := unseen(matchIDs, checked)
	w.setProgress(username, len(newIDs))
	log.Info("processing new matches", "new", len(newIDs), "listed", len(matchIDs))

	recorded := 0
	for start := 0; start < len(newIDs); start += w.syncCfg.BatchSize {
		end := min(start+w.syncCfg.BatchSize, len(newIDs))
		n, err := w.processBatch(ctx, log, userID, playerID, newIDs[start:end])
		recorded += n
		if err != nil && ctx.Err() != nil {
			log.Warn("match batch interrupted by shutdown", "recorded", recorded)
			return
		}
		if err != nil {
			log.Error("failed to process match batch", "error", err, "recorded", recorded)
			w.notifyFailure(ctx, item.RequesterID, username)
			return
		}
	}

	msg := fmt.Sprintf("%s Job for user `%s` has been completed.", w.syncCfg.SuccessIcon, username)
	if err := w.notifier.SendDirectMessage(ctx, item.RequesterID, msg); err != nil {
		log.Error("failed to send completion message", "requester_id", item.RequesterID, "error", err)
	}

	log.Info("user synchronized", "recorded", recorded, "duration", time.Since(started).Round(time.Millisecond))
}

// processBatch fetches one batch of match details and records each match,
// returning the number of matches recorded.
func (w *Worker) processBatch(ctx context.Context, log *logger.Logger, userID uint, playerID string, batch []string) (int, error) {
	matches, err := w.source.FetchMatchDetails(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("fetch match details: %w", err)
	}

	wanted := make(map[string]struct{}, len(batch))
	for _, id := range batch {
		wanted[id] = struct{}{}
	}

	recorded := 0
	for i := range matches {
		m := &matches[i]
		matchID := m.Metadata.MatchID
		if _, ok := wanted[matchID]; !ok {
			log.Warn("ignoring unrequested match", "match_id", matchID)
			continue
		}
		delete(wanted, matchID)

		var score int64
		ranked := false
		if p := m.Participant(playerID); p != nil {
			score = p.GameScore
			ranked = m.Info.Ranked
		} else {
			log.Warn("player missing from match, recording zero score", "match_id", matchID)
		}

		inserted, err := w.store.RecordMatch(ctx, &model.Match{
			MatchID:   matchID,
			UserID:    userID,
			GameScore: score,
			Ranked:    ranked,
		})
		if err != nil {
			return recorded, fmt.Errorf("record match %s: %w", matchID, err)
		}
		if inserted {
			recorded++
		}
		remaining := w.decrementRemaining()
		log.Debug("match recorded", "match_id", matchID, "score", score, "ranked", ranked, "remaining", remaining)
	}

	for id := range wanted {
		log.Warn("match details unavailable", "match_id", id)
	}
	return recorded, nil
}

// notifyFailure tells the requester their sync did not complete. Nothing is
// sent when ctx was aborted, since the item stays queued.
func (w *Worker) notifyFailure(ctx context.Context, requesterID, username string) {
	if ctx.Err() != nil {
		return
	}
	msg := fmt.Sprintf("%s Failed to process user '%s'.", w.syncCfg.FailureIcon, username)
	if err := w.notifier.SendDirectMessage(ctx, requesterID, msg); err != nil {
		w.logger.Error("failed to send failure message", "requester_id", requesterID, "error", err)
	}
}

// unseen returns the ids not present in checked, in listing order and
// without repeats.
func unseen(ids []string, checked map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := checked[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (w *Worker) setProgress(username string, remaining int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentUser = username
	w.remaining = remaining
}

func (w *Worker) decrementRemaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.remaining > 0 {
		w.remaining--
	}
	return w.remaining
}

// CurrentUser returns the username being synchronized, or "" when idle.
func (w *Worker) CurrentUser() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentUser
}

// RemainingMatches returns how many new matches of the current user are still
// to be recorded, or 0 when no user is in flight.
func (w *Worker) RemainingMatches() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentUser == "" {
		return 0
	}
	return w.remaining
}

// GetLeaderboard renders the ranked leaderboard as a table.
func (w *Worker) GetLeaderboard(ctx context.Context, mobile bool) (string, error) {
	rows, err := w.store.GetLeaderboard(ctx)
	if err != nil {
		return "", fmt.Errorf("load leaderboard: %w", err)
	}
	return leaderboard.Render(rows, mobile), nil
}

// CreateOrUpdateLeaderboardDisplay edits the published leaderboard in place,
// publishing a new one (and remembering its id) when none exists yet or the
// old one was deleted. Failures are logged and returned.
func (w *Worker) CreateOrUpdateLeaderboardDisplay(ctx context.Context) error {
	w.displayMu.Lock()
	defer w.displayMu.Unlock()

	log := w.logger.With("channel_id", w.board.ChannelID)

	if w.board.ChannelID == "" {
		log.Critical("leaderboard channel not configured")
		return notify.ErrChannelNotFound
	}

	text, err := w.GetLeaderboard(ctx, false)
	if err != nil {
		log.Error("failed to render leaderboard", "error", err)
		return err
	}
	display := notify.Display{
		Title:       w.board.Title,
		Description: "```" + leaderboard.Truncate(text, w.board.MaxLength, config.TruncationMarker) + "```",
		Footer:      w.board.Footer,
		Color:       w.board.Color,
		Timestamp:   time.Now(),
	}

	messageID := w.displayMessageID(ctx)
	if messageID != "" {
		err = w.notifier.FetchDisplay(ctx, w.board.ChannelID, messageID)
		if err == nil {
			err = w.notifier.EditDisplay(ctx, w.board.ChannelID, messageID, display)
		}
		switch {
		case err == nil:
			log.Debug("leaderboard display updated", "message_id", messageID)
			return nil
		case errors.Is(err, notify.ErrChannelNotFound):
			log.Critical("leaderboard channel not found", "error", err)
			return err
		case !errors.Is(err, notify.ErrNotFound):
			log.Error("failed to update leaderboard display", "message_id", messageID, "error", err)
			return err
		}
		log.Info("leaderboard display missing, publishing a new one", "message_id", messageID)
	}

	newID, err := w.notifier.PublishDisplay(ctx, w.board.ChannelID, display)
	if err != nil {
		if errors.Is(err, notify.ErrChannelNotFound) {
			log.Critical("leaderboard channel not found", "error", err)
		} else {
			log.Error("failed to publish leaderboard display", "error", err)
		}
		return err
	}
	if err := w.store.SetSetting(ctx, model.SettingLeaderboardMessageID, newID); err != nil {
		log.Error("failed to persist leaderboard message id", "message_id", newID, "error", err)
		return err
	}
	log.Info("leaderboard display published", "message_id", newID)
	return nil
}

// displayMessageID returns the persisted display id, falling back to the
// configured seed.
func (w *Worker) displayMessageID(ctx context.Context) string {
	id, err := w.store.GetSetting(ctx, model.SettingLeaderboardMessageID)
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		w.logger.Warn("failed to read leaderboard message id", "error", err)
	}
	return w.board.MessageID
}
