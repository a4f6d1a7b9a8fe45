package tail

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"secdb/internal/record"
)

// SubscriberConfig configures a Subscriber's consumer group identity.
type SubscriberConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // default "sdblive"
	ConsumerName  string // default "worker-1"
}

// Handlers receives records a Subscriber decodes off a stream.
type Handlers struct {
	OnQuote func(streamKey string, ts time.Time, q record.Quote)
	OnTrade func(streamKey string, ts time.Time, t record.Trade)
}

// Subscriber reads quote/trade records fanned out by Writer.PublishQuote/
// PublishTrade using a Redis Streams consumer group, so multiple sdblive
// replicas can share one Redis Stream without double-delivering records.
type Subscriber struct {
	client *goredis.Client
	group  string
	name   string
}

// NewSubscriber creates a Subscriber and pings the server.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("tail: subscriber ping: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "sdblive"
	}
	name := cfg.ConsumerName
	if name == "" {
		name = "worker-1"
	}

	log.Printf("[tail] subscriber connected to %s (group=%s, consumer=%s)", cfg.Addr, group, name)
	return &Subscriber{client: client, group: group, name: name}, nil
}

// EnsureConsumerGroup creates s's consumer group on stream if it doesn't
// already exist, starting from "$" (only records published after this
// call are delivered).
func (s *Subscriber) EnsureConsumerGroup(ctx context.Context, stream string) error {
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("tail: xgroup create %s: %w", stream, err)
	}
	return nil
}

// Consume blocks on XREADGROUP against stream, decoding each entry and
// delivering it to h, until ctx is cancelled.
func (s *Subscriber) Consume(ctx context.Context, stream string, h Handlers) error {
	if err := s.EnsureConsumerGroup(ctx, stream); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.name,
			Streams:  []string{stream, ">"},
			Count:    200,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[tail] xreadgroup %s: %v", stream, err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, st := range results {
			for _, msg := range st.Messages {
				s.dispatch(st.Stream, msg, h)
				s.client.XAck(ctx, st.Stream, s.group, msg.ID)
			}
		}
	}
}

func (s *Subscriber) dispatch(streamKey string, msg goredis.XMessage, h Handlers) {
	kind, _ := msg.Values["kind"].(string)
	data, ok := msg.Values["data"].(string)
	if !ok {
		return
	}

	switch kind {
	case KindQuote:
		var env quoteEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			log.Printf("[tail] unmarshal quote envelope: %v", err)
			return
		}
		if h.OnQuote != nil {
			h.OnQuote(streamKey, time.Unix(0, env.TsUnixNano).UTC(), env.Quote)
		}
	case KindTrade:
		var env tradeEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			log.Printf("[tail] unmarshal trade envelope: %v", err)
			return
		}
		if h.OnTrade != nil {
			h.OnTrade(streamKey, time.Unix(0, env.TsUnixNano).UTC(), env.Trade)
		}
	}
}

// Client returns the underlying Redis client, for health checks.
func (s *Subscriber) Client() *goredis.Client { return s.client }

// Close closes the underlying Redis client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}
