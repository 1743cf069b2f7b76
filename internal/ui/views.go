package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mossy-p/roulette-signaling/internal/call"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

// StatusView renders GET /status as a two-column table.
func StatusView(s models.Status) string {
	t := newTable("Server status")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Status", s.Status},
		{"Uptime", s.Uptime},
		{"Started", s.StartedAt.Format(time.RFC3339)},
		{"Connections", s.Connections},
		{"Searching", s.Queued},
		{"Active calls", s.Pairs},
	})
	if s.Redis != "" {
		t.AppendRow(table.Row{"Redis", s.Redis})
	}
	return t.Render()
}

// CallSummary is what is shown once a call ends
type CallSummary struct {
	Session  call.Session
	Reason   call.Reason
	Duration time.Duration
}

// CallSummaryView renders a finished call.
func CallSummaryView(s CallSummary) string {
	partner := s.Session.PartnerName
	if partner == "" {
		partner = s.Session.PartnerID
	}
	t := newTable("Call summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Partner", partner},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Ended by", string(s.Reason)},
		{"Friend call", strconv.FormatBool(s.Session.IsFriendCall)},
		{"Simulated", strconv.FormatBool(s.Session.Simulated)},
	})
	return t.Render()
}

// FriendsView lists friend user ids.
func FriendsView(f models.FriendsResponse) string {
	if len(f.Friends) == 0 {
		return MutedStyle.Render("No friends yet")
	}
	t := newTable("Friends of " + f.UserID)
	t.AppendHeader(table.Row{"#", "User"})
	for i, id := range f.Friends {
		t.AppendRow(table.Row{i + 1, id})
	}
	return t.Render()
}

// MatchView announces a new partner.
func MatchView(s call.Session) string {
	name := s.PartnerName
	if name == "" {
		name = s.PartnerID
	}
	role := "waiting for their offer"
	if s.Initiator {
		role = "sending the offer"
	}
	content := fmt.Sprintf("%s Matched with %s\n\n%s",
		IconMatch, BoldStyle.Foreground(Primary).Render(name), MutedStyle.Render(role))
	if s.Simulated {
		content += "\n" + WarningStyle.Render(IconOffline+" offline simulation")
	}
	return MatchBoxStyle.Render(content)
}

// FriendView announces a friendship.
func FriendView(f models.Friendship) string {
	return FriendBoxStyle.Render(fmt.Sprintf("%s You are now friends\n\n%s", IconFriend, MutedStyle.Render(f.A+" & "+f.B)))
}

// StateView renders a call state badge.
func StateView(s call.State) string {
	return StateStyle.Render(s.String())
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}
