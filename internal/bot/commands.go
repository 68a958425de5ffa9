package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/arriba-labs/battlebot/internal/config"
	"github.com/arriba-labs/battlebot/internal/dispatcher"
	"github.com/arriba-labs/battlebot/internal/jobs"
	"github.com/arriba-labs/battlebot/internal/leaderboard"
)

// Slash command names.
const (
	CommandSync        = "battleball-sync"
	CommandProgress    = "battleball-progress"
	CommandLeaderboard = "battleball-leaderboard"
	CommandRefresh     = "battleball-refresh"
)

// maxReplyLength is Discord's message content limit.
const maxReplyLength = 2000

// responder delivers the result of a command to the invoking user.
type responder interface {
	Reply(ctx context.Context, content string) error
}

// Commands returns the application command definitions registered with Discord.
func Commands() []*discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionManageMessages)
	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandSync,
			Description: "Queue a Habbo user for BattleBall match synchronization",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "username",
					Description: "Habbo username",
					Required:    true,
					MaxLength:   64,
				},
			},
		},
		{
			Name:        CommandProgress,
			Description: "Show the progress of the running synchronization",
		},
		{
			Name:        CommandLeaderboard,
			Description: "Show the BattleBall leaderboard",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "mobile",
					Description: "Compact layout without match counts",
				},
			},
		},
		{
			Name:                     CommandRefresh,
			Description:              "Republish the leaderboard message",
			DefaultMemberPermissions: &adminOnly,
		},
	}
}

// syncCommand queues username for synchronization on behalf of requesterID.
func (b *Bot) syncCommand(username, requesterID string, r responder) dispatcher.Work {
	return func(ctx context.Context) error {
		item, err := b.jobs.EnqueueSync(ctx, username, requesterID)
		switch {
		case errors.Is(err, jobs.ErrInvalidUsername):
			return r.Reply(ctx, "Please provide a username.")
		case errors.Is(err, jobs.ErrJobAlreadyExists):
			return r.Reply(ctx, fmt.Sprintf("User `%s` is already queued.", jobs.NormalizeUsername(username)))
		case err != nil:
			return fmt.Errorf("enqueue sync: %w", err)
		}

		position, err := b.jobs.Position(ctx, item)
		if err != nil {
			b.logger.Warn("failed to read queue position", "queue_id", item.ID, "error", err)
		}
		return r.Reply(ctx, syncReply(item.Username, position))
	}
}

func syncReply(username string, position int64) string {
	msg := fmt.Sprintf("User `%s` has been added to the queue", username)
	if position > 0 {
		msg += fmt.Sprintf(" (position %d)", position)
	}
	return msg + ". You will receive a DM once it has been processed."
}

// progressCommand reports what the sync worker is doing.
func (b *Bot) progressCommand(r responder) dispatcher.Work {
	return func(ctx context.Context) error {
		queued, err := b.store.CountQueued(ctx)
		if err != nil {
			return fmt.Errorf("count queue: %w", err)
		}
		return r.Reply(ctx, progressReply(b.worker.CurrentUser(), b.worker.RemainingMatches(), queued))
	}
}

func progressReply(currentUser string, remaining int, queued int64) string {
	if currentUser == "" {
		if queued > 0 {
			return fmt.Sprintf("No user is currently being processed. %d user(s) waiting in the queue.", queued)
		}
		return "No user is currently being processed."
	}
	msg := fmt.Sprintf("Processing `%s`: %d match(es) remaining.", currentUser, remaining)
	// The user in flight is still counted in the queue.
	if waiting := queued - 1; waiting > 0 {
		msg += fmt.Sprintf(" %d user(s) waiting in the queue.", waiting)
	}
	return msg
}

// leaderboardCommand replies with the rendered leaderboard.
func (b *Bot) leaderboardCommand(mobile bool, r responder) dispatcher.Work {
	return func(ctx context.Context) error {
		text, err := b.worker.GetLeaderboard(ctx, mobile)
		if err != nil {
			return err
		}
		return r.Reply(ctx, codeBlock(text))
	}
}

// codeBlock fences text, truncating it to fit one message.
func codeBlock(text string) string {
	const fence = "```"
	return fence + leaderboard.Truncate(text, maxReplyLength-2*len(fence), config.TruncationMarker) + fence
}

// refreshCommand republishes the leaderboard display.
func (b *Bot) refreshCommand(r responder) dispatcher.Work {
	return func(ctx context.Context) error {
		if err := b.worker.CreateOrUpdateLeaderboardDisplay(ctx); err != nil {
			return fmt.Errorf("refresh leaderboard: %w", err)
		}
		return r.Reply(ctx, "Leaderboard updated.")
	}
}
