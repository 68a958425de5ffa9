package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arriba-labs/battlebot/internal/config"
	"github.com/arriba-labs/battlebot/internal/dispatcher"
	"github.com/arriba-labs/battlebot/internal/habbo"
	"github.com/arriba-labs/battlebot/internal/jobs"
	"github.com/arriba-labs/battlebot/internal/logger"
	"github.com/arriba-labs/battlebot/internal/model"
	"github.com/arriba-labs/battlebot/internal/notify"
	"github.com/arriba-labs/battlebot/internal/store"
	"github.com/arriba-labs/battlebot/internal/worker"
)

type fakeResponder struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeResponder) Reply(_ context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, content)
	return nil
}

func (f *fakeResponder) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

type nopSource struct{}

func (nopSource) FetchUserProfile(context.Context, string) (*habbo.Profile, error) {
	return nil, habbo.ErrNotFound
}
func (nopSource) FetchMatchIDs(context.Context, string) ([]string, error) { return nil, nil }
func (nopSource) FetchMatchDetails(context.Context, []string) ([]habbo.Match, error) {
	return nil, nil
}

// displayNotifier fails every display call with err.
type displayNotifier struct{ err error }

func (n displayNotifier) SendDirectMessage(context.Context, string, string) error { return nil }
func (n displayNotifier) FetchDisplay(context.Context, string, string) error { return n.err }
func (n displayNotifier) PublishDisplay(context.Context, string, notify.Display) (string, error) {
	return "msg-1", n.err
}
func (n displayNotifier) EditDisplay(context.Context, string, string, notify.Display) error {
	return n.err
}

func testBot(t *testing.T, displayErr error) (*Bot, *store.Store) {
	t.Helper()

	tmpFile := fmt.Sprintf("%s/bot_test_%d.db", t.TempDir(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(tmpFile), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// One connection serializes writers so concurrent tests never see SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	s := store.New(db)

	cfg := config.Default()
	cfg.Leaderboard.ChannelID = "chan-1"
	log := logger.NewNop()

	w := worker.New(s, nopSource{}, displayNotifier{err: displayErr}, cfg.Sync, cfg.Leaderboard, log)
	return New(nil, dispatcher.New(log), w, jobs.NewQueue(s), s, cfg, log), s
}

func TestCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Commands() {
		names[c.Name] = true
		if c.Description == "" {
			t.Errorf("command %s has no description", c.Name)
		}
	}
	for _, want := range []string{CommandSync, CommandProgress, CommandLeaderboard, CommandRefresh} {
		if !names[want] {
			t.Errorf("command %s not defined", want)
		}
	}
}

func TestSyncCommand(t *testing.T) {
	b, s := testBot(t, nil)
	ctx := context.Background()
	r := &fakeResponder{}

	if err := b.syncCommand("Alice", "42", r)(ctx); err != nil {
		t.Fatalf("sync command failed: %v", err)
	}
	if !strings.Contains(r.last(), "`alice` has been added to the queue (position 1)") {
		t.Errorf("reply = %q", r.last())
	}

	item, err := s.GetNextQueued(ctx)
	if err != nil || item == nil || item.RequesterID != "42" {
		t.Fatalf("queued item = %+v, %v", item, err)
	}

	if err := b.syncCommand("alice", "43", r)(ctx); err != nil {
		t.Fatalf("duplicate sync command failed: %v", err)
	}
	if r.last() != "User `alice` is already queued." {
		t.Errorf("duplicate reply = %q", r.last())
	}

	if err := b.syncCommand(" ", "43", r)(ctx); err != nil {
		t.Fatalf("empty sync command failed: %v", err)
	}
	if r.last() != "Please provide a username." {
		t.Errorf("empty reply = %q", r.last())
	}
}

func TestProgressReply(t *testing.T) {
	tests := []struct {
		user      string
		remaining int
		queued    int64
		want      string
	}{
		{"", 0, 0, "No user is currently being processed."},
		{"", 0, 2, "No user is currently being processed. 2 user(s) waiting in the queue."},
		{"alice", 5, 1, "Processing `alice`: 5 match(es) remaining."},
		{"alice", 5, 3, "Processing `alice`: 5 match(es) remaining. 2 user(s) waiting in the queue."},
	}
	for _, tt := range tests {
		if got := progressReply(tt.user, tt.remaining, tt.queued); got != tt.want {
			t.Errorf("progressReply(%q, %d, %d) = %q, want %q", tt.user, tt.remaining, tt.queued, got, tt.want)
		}
	}
}

func TestProgressCommand(t *testing.T) {
	b, _ := testBot(t, nil)
	r := &fakeResponder{}

	if err := b.progressCommand(r)(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.last() != "No user is currently being processed." {
		t.Errorf("reply = %q", r.last())
	}
}

func TestLeaderboardCommand(t *testing.T) {
	b, s := testBot(t, nil)
	ctx := context.Background()

	if err := s.AddUserIfAbsent(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	r := &fakeResponder{}
	if err := b.leaderboardCommand(true, r)(ctx); err != nil {
		t.Fatal(err)
	}
	reply := r.last()
	if !strings.HasPrefix(reply, "```") || !strings.HasSuffix(reply, "```") {
		t.Errorf("reply not fenced: %q", reply)
	}
	if !strings.Contains(reply, "alice") || strings.Contains(reply, "Ranked Matches") {
		t.Errorf("unexpected mobile leaderboard:\n%s", reply)
	}
}

func TestCodeBlockFitsMessage(t *testing.T) {
	got := codeBlock(strings.Repeat("x", 5000))
	if n := utf8.RuneCountInString(got); n != maxReplyLength {
		t.Errorf("length = %d, want %d", n, maxReplyLength)
	}
}

func TestRefreshCommand(t *testing.T) {
	b, _ := testBot(t, nil)
	r := &fakeResponder{}

	if err := b.refreshCommand(r)(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if r.last() != "Leaderboard updated." {
		t.Errorf("reply = %q", r.last())
	}
}

func TestRefreshCommand_ChannelMissing(t *testing.T) {
	b, _ := testBot(t, notify.ErrChannelNotFound)
	r := &fakeResponder{}

	err := b.refreshCommand(r)(context.Background())
	if !errors.Is(err, notify.ErrChannelNotFound) {
		t.Errorf("expected ErrChannelNotFound, got %v", err)
	}
	if len(r.replies) != 0 {
		t.Errorf("failed refresh should leave the reply to the dispatcher: %q", r.replies)
	}
}

func TestRequesterID(t *testing.T) {
	guild := &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "g1"}}}
	if got := requesterID(guild); got != "g1" {
		t.Errorf("guild requester = %q", got)
	}
	dm := &discordgo.Interaction{User: &discordgo.User{ID: "d1"}}
	if got := requesterID(dm); got != "d1" {
		t.Errorf("dm requester = %q", got)
	}
	if got := requesterID(&discordgo.Interaction{}); got != "" {
		t.Errorf("empty requester = %q", got)
	}
}

func TestOptions(t *testing.T) {
	opts := []*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "username", Type: discordgo.ApplicationCommandOptionString, Value: "alice"},
		{Name: "mobile", Type: discordgo.ApplicationCommandOptionBoolean, Value: true},
	}
	if got := stringOption(opts, "username"); got != "alice" {
		t.Errorf("username = %q", got)
	}
	if !boolOption(opts, "mobile") {
		t.Error("mobile = false")
	}
	if boolOption(nil, "mobile") {
		t.Error("missing mobile option should default to false")
	}
}
