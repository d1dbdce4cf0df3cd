// Package metrics provides a minimal metrics sink for counters recorded by
// the dispatch pipeline.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"signalhub/cache"
)

// Sink records a named measurement with optional tags
type Sink interface {
	Record(name string, value float64, tags map[string]string)
}

// NopSink discards all measurements
type NopSink struct{}

// Record implements Sink
func (NopSink) Record(string, float64, map[string]string) {}

// RedisSink accumulates daily counters in Redis under metric:<date>:<name>
// keys. Values are rounded to integers; tags are appended to the key sorted
// by tag name.
type RedisSink struct {
	redis *cache.RedisClient
}

// NewRedisSink creates a Redis-backed metrics sink
func NewRedisSink(redis *cache.RedisClient) *RedisSink {
	return &RedisSink{redis: redis}
}

// Record implements Sink
func (s *RedisSink) Record(name string, value float64, tags map[string]string) {
	if s.redis == nil {
		return
	}

	key := fmt.Sprintf("metric:%s:%s", time.Now().UTC().Format("2006-01-02"), name)

	tagNames := make([]string, 0, len(tags))
	for tag := range tags {
		tagNames = append(tagNames, tag)
	}
	sort.Strings(tagNames)
	for _, tag := range tagNames {
		key += fmt.Sprintf(":%s=%s", tag, tags[tag])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _ = s.redis.IncrBy(ctx, key, int64(value), 48*time.Hour)
}
