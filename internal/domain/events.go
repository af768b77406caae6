package domain

import "time"

// Bus channels and streams.
const (
	ChannelFeeds = "prenews:feeds"
	ChannelJobs  = "prenews:jobs"
	StreamJobs   = "prenews:jobs:history"
)

// JobEvent is published after every job run.
type JobEvent struct {
	Job        string    `json:"job"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	Result     any       `json:"result,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FeedEvent is published after a feed is replaced.
type FeedEvent struct {
	Feed       FeedName  `json:"feed"`
	Items      int       `json:"items"`
	ComputedAt time.Time `json:"computed_at"`
}
