// Package habbo is a client for the public Habbo API endpoints used to read
// BattleBall match history.
package habbo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/arriba-labs/battlebot/internal/version"
)

// ErrNotFound is returned when the API reports the resource does not exist.
var ErrNotFound = errors.New("habbo: not found")

// matchIDPageSize is the page size used when listing match ids.
const matchIDPageSize = 100

// Profile is the subset of a public user profile the bot needs.
type Profile struct {
	UniqueID        string `json:"uniqueId"`
	Name            string `json:"name"`
	BouncerPlayerID string `json:"bouncerPlayerId"`
}

// Match is a BattleBall match detail document.
type Match struct {
	Metadata MatchMetadata `json:"metadata"`
	Info     MatchInfo     `json:"info"`
}

type MatchMetadata struct {
	MatchID string `json:"matchId"`
}

type MatchInfo struct {
	GameStart    string        `json:"gameStart,omitempty"`
	GameEnd      string        `json:"gameEnd,omitempty"`
	Ranked       bool          `json:"ranked"`
	Participants []Participant `json:"participants"`
}

// Participant is one player's result within a match.
type Participant struct {
	GamePlayerID string `json:"gamePlayerId"`
	GameScore    int64  `json:"gameScore"`
}

// Participant returns the entry for playerID, or nil when the player is not
// listed in the match.
func (m *Match) Participant(playerID string) *Participant {
	for i := range m.Info.Participants {
		if m.Info.Participants[i].GamePlayerID == playerID {
			return &m.Info.Participants[i]
		}
	}
	return nil
}

// Client talks to the Habbo public API. All requests share one rate limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client for baseURL allowing requestsPerSecond requests.
// timeout bounds every individual request; zero means no timeout.
func NewClient(baseURL string, requestsPerSecond float64, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// FetchUserProfile looks up a user by name.
// Returns ErrNotFound if the user does not exist.
func (c *Client) FetchUserProfile(ctx context.Context, username string) (*Profile, error) {
	q := url.Values{"name": {username}}
	var profile Profile
	if err := c.getJSON(ctx, "/api/public/users?"+q.Encode(), &profile); err != nil {
		return nil, fmt.Errorf("fetch profile %q: %w", username, err)
	}
	if profile.BouncerPlayerID == "" {
		return nil, fmt.Errorf("fetch profile %q: no bouncer player id: %w", username, ErrNotFound)
	}
	return &profile, nil
}

// FetchMatchIDs lists every BattleBall match id for a player, in the order
// the API returns them.
func (c *Client) FetchMatchIDs(ctx context.Context, playerID string) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += matchIDPageSize {
		q := url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(matchIDPageSize)},
		}
		path := "/api/public/matches/v1/" + url.PathEscape(playerID) + "/ids?" + q.Encode()

		var page []string
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("fetch match ids for %s: %w", playerID, err)
		}
		ids = append(ids, page...)
		if len(page) < matchIDPageSize {
			return ids, nil
		}
	}
}

// FetchMatchDetails fetches all matches in ids concurrently. Results keep
// the order of ids; matches the API does not know are left out.
func (c *Client) FetchMatchDetails(ctx context.Context, ids []string) ([]Match, error) {
	results := make([]*Match, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			var m Match
			err := c.getJSON(gctx, "/api/public/matches/v1/"+url.PathEscape(id), &m)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetch match %s: %w", id, err)
			}
			if m.Metadata.MatchID == "" {
				m.Metadata.MatchID = id
			}
			results[i] = &m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(ids))
	for _, m := range results {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	return matches, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
