package models

import "time"

// TriggerResults splits processed job keys by outcome
type TriggerResults struct {
	Successful []string `json:"successful"`
	Failed     []string `json:"failed"`
}

// TriggerResponse represents the response from a job trigger request
type TriggerResponse struct {
	ResponseTime time.Duration  `json:"response_time"`
	Results      TriggerResults `json:"results"`
	RequestID    string         `json:"request_id"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string        `json:"status"`
	Timestamp        time.Time     `json:"timestamp"`
	Version          string        `json:"version"`
	Uptime           time.Duration `json:"uptime"`
	BrowserReady     bool          `json:"browser_ready"`
	MailboxConnected bool          `json:"mailbox_connected"`
}

// StatsResponse reports cumulative processing counts
type StatsResponse struct {
	JobsProcessed  int64     `json:"jobs_processed"`
	JobsSuccessful int64     `json:"jobs_successful"`
	JobsFailed     int64     `json:"jobs_failed"`
	JobsDuplicate  int64     `json:"jobs_duplicate"`
	EmailsParsed   int64     `json:"emails_parsed"`
	EmailsSkipped  int64     `json:"emails_skipped"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
