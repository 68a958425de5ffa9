// Package bot connects the Discord slash commands to the command dispatcher
// and the sync worker.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/arriba-labs/battlebot/internal/config"
	"github.com/arriba-labs/battlebot/internal/dispatcher"
	"github.com/arriba-labs/battlebot/internal/jobs"
	"github.com/arriba-labs/battlebot/internal/logger"
	"github.com/arriba-labs/battlebot/internal/store"
	"github.com/arriba-labs/battlebot/internal/worker"
)

// deferTimeout bounds the initial acknowledgement of an interaction.
const deferTimeout = 3 * time.Second

// Bot owns the Discord gateway connection and routes commands.
type Bot struct {
	session    *discordgo.Session
	dispatcher *dispatcher.Queue
	worker     *worker.Worker
	jobs       *jobs.Queue
	store      *store.Store
	discord    config.DiscordConfig
	refresh    time.Duration
	logger     *logger.Logger

	removeHandlers []func()
}

// New creates a bot over an unopened session.
func New(
	session *discordgo.Session,
	d *dispatcher.Queue,
	w *worker.Worker,
	q *jobs.Queue,
	s *store.Store,
	cfg *config.Config,
	log *logger.Logger,
) *Bot {
	return &Bot{
		session:    session,
		dispatcher: d,
		worker:     w,
		jobs:       q,
		store:      s,
		discord:    cfg.Discord,
		refresh:    cfg.Leaderboard.RefreshInterval,
		logger:     log.With("component", "bot"),
	}
}

// Open connects to the gateway and, unless skipRegister is set, registers the
// slash commands for the configured guild (or globally).
func (b *Bot) Open(ctx context.Context, skipRegister bool) error {
	b.session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	b.removeHandlers = append(b.removeHandlers,
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(b.onInteraction),
	)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	if skipRegister {
		return nil
	}

	var appID string
	switch {
	case b.session.State.Application != nil:
		appID = b.session.State.Application.ID
	case b.session.State.User != nil:
		appID = b.session.State.User.ID
	default:
		return fmt.Errorf("register commands: application id unknown")
	}
	registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.discord.GuildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.logger.Info("slash commands registered", "count", len(registered), "guild_id", b.discord.GuildID)
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	for _, remove := range b.removeHandlers {
		remove()
	}
	b.removeHandlers = nil
	return b.session.Close()
}

// RunLeaderboardLoop republishes the leaderboard display on every refresh
// interval until ctx is cancelled. Refreshes go through the dispatcher so they
// never overlap a command.
func (b *Bot) RunLeaderboardLoop(ctx context.Context) error {
	if b.refresh <= 0 {
		b.logger.Info("leaderboard refresh loop disabled")
		return nil
	}
	ticker := time.NewTicker(b.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.dispatcher.Submit(nil, b.worker.CreateOrUpdateLeaderboardDisplay)
		}
	}
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("connected to discord", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	requester := requesterID(i.Interaction)
	log := b.logger.With("command", data.Name, "requester_id", requester)

	trigger := newInteractionTrigger(s, i.Interaction)

	var work dispatcher.Work
	switch data.Name {
	case CommandSync:
		work = b.syncCommand(stringOption(data.Options, "username"), requester, trigger)
	case CommandProgress:
		work = b.progressCommand(trigger)
	case CommandLeaderboard:
		work = b.leaderboardCommand(boolOption(data.Options, "mobile"), trigger)
	case CommandRefresh:
		work = b.refreshCommand(trigger)
	default:
		log.Warn("unknown command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deferTimeout)
	defer cancel()
	if err := trigger.Defer(ctx); err != nil {
		// The queued unit's reply will fail too and report it.
		log.Error("failed to acknowledge interaction", "error", err)
	}

	jobID := b.dispatcher.Submit(trigger, work)
	log.Debug("command queued", "job_id", jobID, "pending", b.dispatcher.Pending())
}

// requesterID returns the id of the user who invoked the interaction, in a
// guild or a DM.
func requesterID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func stringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name && o.Type == discordgo.ApplicationCommandOptionString {
			return o.StringValue()
		}
	}
	return ""
}

func boolOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	for _, o := range opts {
		if o.Name == name && o.Type == discordgo.ApplicationCommandOptionBoolean {
			return o.BoolValue()
		}
	}
	return false
}
