package ports

import "context"

// StatisticsService records job events for later aggregation.
type StatisticsService interface {
	RecordJobEvent(ctx context.Context, jobID, eventType string, metadata map[string]any) error
}

// Broadcaster delivers a message to the live subscribers of a channel and
// returns how many accepted it. It must not block.
type Broadcaster interface {
	Broadcast(channel string, msg any) int
}
