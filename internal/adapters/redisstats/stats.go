// Package redisstats records job events in Redis for the statistics port.
package redisstats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRecentLimit bounds the per-job recent event list.
const DefaultRecentLimit = 100

// Options configures a Recorder.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "plotline".
	Prefix string
	// RecentLimit caps the per-job event list. Defaults to DefaultRecentLimit.
	RecentLimit int
}

// Recorder implements ports.StatisticsService on Redis.
//
// Keys:
//
//	<prefix>:stats:events             hash  eventType -> count
//	<prefix>:stats:job:<id>:events    hash  eventType -> count
//	<prefix>:stats:job:<id>:recent    list  newest-first JSON events
type Recorder struct {
	client *redis.Client
	prefix string
	limit  int
	now    func() time.Time
}

// New dials Redis lazily; go-redis connects on first use.
func New(opts Options) *Recorder {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, opts.RecentLimit)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, prefix string, limit int) *Recorder {
	if prefix == "" {
		prefix = "plotline"
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Recorder{client: client, prefix: prefix, limit: limit, now: time.Now}
}

// Event is one recorded job event as stored in the recent list.
type Event struct {
	JobID     string         `json:"job_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (r *Recorder) globalKey() string { return r.prefix + ":stats:events" }

func (r *Recorder) jobCountKey(jobID string) string {
	return fmt.Sprintf("%s:stats:job:%s:events", r.prefix, jobID)
}

func (r *Recorder) recentKey(jobID string) string {
	return fmt.Sprintf("%s:stats:job:%s:recent", r.prefix, jobID)
}

// RecordJobEvent implements ports.StatisticsService.
func (r *Recorder) RecordJobEvent(ctx context.Context, jobID, eventType string, metadata map[string]any) error {
	payload, err := json.Marshal(Event{
		JobID:     jobID,
		Type:      eventType,
		Timestamp: r.now().UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, r.globalKey(), eventType, 1)
	pipe.HIncrBy(ctx, r.jobCountKey(jobID), eventType, 1)
	pipe.LPush(ctx, r.recentKey(jobID), payload)
	pipe.LTrim(ctx, r.recentKey(jobID), 0, int64(r.limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record job event: %w", err)
	}
	return nil
}

// JobEventCounts returns per-type counts for one job.
func (r *Recorder) JobEventCounts(ctx context.Context, jobID string) (map[string]int64, error) {
	return r.counts(ctx, r.jobCountKey(jobID))
}

// EventCounts returns per-type counts across all jobs.
func (r *Recorder) EventCounts(ctx context.Context) (map[string]int64, error) {
	return r.counts(ctx, r.globalKey())
}

// RecentEvents returns up to n of the job's newest events, newest first.
func (r *Recorder) RecentEvents(ctx context.Context, jobID string, n int) ([]Event, error) {
	if n <= 0 || n > r.limit {
		n = r.limit
	}
	raw, err := r.client.LRange(ctx, r.recentKey(jobID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent events: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, s := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return nil, fmt.Errorf("decode recent event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Ping checks connectivity.
func (r *Recorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Recorder) Close() error {
	return r.client.Close()
}

func (r *Recorder) counts(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read event counts: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse count %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
