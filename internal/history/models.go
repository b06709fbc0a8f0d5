package history

import "time"

// Campaign is one finished campaign as indexed from its summary.
type Campaign struct {
	ID         int64
	Name       string
	Directory  string
	Method     string
	Sender     string
	Subject    string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Sent       int
	Failed     int
}

// Delivery is the outcome for one recipient of a campaign.
type Delivery struct {
	ID                int64
	CampaignID        int64
	Email             string
	Status            string
	Message           string
	ProviderMessageID string
	MessageID         string
	RawSHA256         string
	EMLPath           string
	Timestamp         time.Time
}
