package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/bizcrawl/internal/model"
)

// DefaultRedisPrefix is prepended to record ids to build Redis keys.
const DefaultRedisPrefix = "bizcrawl:business:"

// scanBatch is the COUNT hint of SCAN calls.
const scanBatch = 200

// RedisOptions configures a RedisSink.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisSink stores records as JSON values in Redis.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink creates a RedisSink connected to opts.Addr.
func NewRedisSink(opts RedisOptions) *RedisSink {
	return NewRedisSinkFromClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), opts.Prefix)
}

// NewRedisSinkFromClient creates a RedisSink over an existing client.
// An empty prefix means DefaultRedisPrefix.
func NewRedisSinkFromClient(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// UpsertNew implements crawler.Sink with SETNX.
func (s *RedisSink) UpsertNew(ctx context.Context, rec *model.BusinessRecord) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.prefix+rec.ID, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to insert business %s: %w", rec.ID, err)
	}
	if !ok {
		return fmt.Errorf("business %s: %w", rec.ID, model.ErrRecordExists)
	}
	return nil
}

// LoadForMerge implements crawler.Sink.
func (s *RedisSink) LoadForMerge(ctx context.Context, id string) (*model.BusinessRecord, error) {
	val, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("business %s: %w", id, model.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to load business %s: %w", id, err)
	}
	return decodeRecord(val)
}

// Save implements crawler.Sink. Only existing keys are overwritten.
func (s *RedisSink) Save(ctx context.Context, rec *model.BusinessRecord) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, s.prefix+rec.ID, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save business %s: %w", rec.ID, err)
	}
	if !ok {
		return fmt.Errorf("business %s: %w", rec.ID, model.ErrRecordNotFound)
	}
	return nil
}

// ListWithWebsite implements crawler.Sink.
func (s *RedisSink) ListWithWebsite(ctx context.Context) ([]*model.BusinessRecord, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(rec *model.BusinessRecord) bool {
		return !rec.HasWebsite()
	}), nil
}

// List returns every record under the prefix, ordered by scrape time.
func (s *RedisSink) List(ctx context.Context) ([]*model.BusinessRecord, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan businesses: %w", err)
	}

	records := make([]*model.BusinessRecord, 0, len(keys))
	for batch := range slices.Chunk(keys, scanBatch) {
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load businesses: %w", err)
		}
		for _, v := range values {
			// Keys deleted between SCAN and MGET come back as nil.
			str, ok := v.(string)
			if !ok {
				continue
			}
			rec, err := decodeRecord([]byte(str))
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

// KnownSourceURLs implements crawler.SourceURLLister.
func (s *RedisSink) KnownSourceURLs(ctx context.Context) ([]string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(records))
	for _, rec := range records {
		urls = append(urls, rec.SourceURL)
	}
	slices.Sort(urls)
	return urls, nil
}

func encodeRecord(rec *model.BusinessRecord) ([]byte, error) {
	if rec == nil || rec.ID == "" {
		return nil, ErrMissingID
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize business %s: %w", rec.ID, err)
	}
	return payload, nil
}

func decodeRecord(data []byte) (*model.BusinessRecord, error) {
	var rec model.BusinessRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse business: %w", err)
	}
	rec.InitContactSets()
	return &rec, nil
}
