package model

import "fmt"

// Stat counter columns.
const (
	StatSent         = "sent"
	StatFailed       = "failed"
	StatOpened       = "opened"
	StatClicked      = "clicked"
	StatBounced      = "bounced"
	StatUnsubscribed = "unsubscribed"
)

// StatFields lists every counter column of a StatsEntry.
var StatFields = []string{StatSent, StatFailed, StatOpened, StatClicked, StatBounced, StatUnsubscribed}

// StatsEntry holds per-campaign per-day delivery counters.
type StatsEntry struct {
	Key          string `db:"key" json:"key"`
	CampaignID   string `db:"campaign_id" json:"campaign_id"`
	Day          string `db:"day" json:"day"`
	Sent         int    `db:"sent" json:"sent"`
	Failed       int    `db:"failed" json:"failed"`
	Opened       int    `db:"opened" json:"opened"`
	Clicked      int    `db:"clicked" json:"clicked"`
	Bounced      int    `db:"bounced" json:"bounced"`
	Unsubscribed int    `db:"unsubscribed" json:"unsubscribed"`
}

// StatsKey builds the row key for a (day, campaign) pair.
func StatsKey(day, campaignID string) string {
	return fmt.Sprintf("%s:%s", day, campaignID)
}

// Counters returns the entry's counters keyed by column name.
func (s *StatsEntry) Counters() map[string]int {
	return map[string]int{
		StatSent:         s.Sent,
		StatFailed:       s.Failed,
		StatOpened:       s.Opened,
		StatClicked:      s.Clicked,
		StatBounced:      s.Bounced,
		StatUnsubscribed: s.Unsubscribed,
	}
}

// Add increments the named counter by n. Unknown fields are ignored.
func (s *StatsEntry) Add(field string, n int) {
	switch field {
	case StatSent:
		s.Sent += n
	case StatFailed:
		s.Failed += n
	case StatOpened:
		s.Opened += n
	case StatClicked:
		s.Clicked += n
	case StatBounced:
		s.Bounced += n
	case StatUnsubscribed:
		s.Unsubscribed += n
	}
}
