// Package leaderboard renders ranked user totals as a plain-text table.
package leaderboard

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/arriba-labs/battlebot/internal/model"
)

var (
	fullHeaders   = []string{"Position", "Username", "Score", "Ranked Matches", "Non-Ranked Matches"}
	mobileHeaders = []string{"Position", "Username", "Score"}

	cellStyle = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Center)
)

// Render formats rows, already in rank order, as an ASCII table. The mobile
// variant drops the match-count columns.
func Render(rows []model.LeaderboardRow, mobile bool) string {
	headers := fullHeaders
	if mobile {
		headers = mobileHeaders
	}

	data := make([][]string, 0, len(rows))
	for i, r := range rows {
		cells := []string{
			strconv.Itoa(i + 1),
			r.Username,
			strconv.FormatInt(r.Score, 10),
		}
		if !mobile {
			cells = append(cells,
				strconv.Itoa(r.RankedMatches),
				strconv.Itoa(r.NonRankedMatches),
			)
		}
		data = append(data, cells)
	}

	t := table.New().
		Border(lipgloss.ASCIIBorder()).
		Headers(headers...).
		Rows(data...).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle })

	return t.String()
}

// Truncate shortens s to exactly maxLen runes, the last of which are marker,
// when s is longer than maxLen. Shorter strings are returned unchanged.
func Truncate(s string, maxLen int, marker string) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	keep := maxLen - len([]rune(marker))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + marker
}
