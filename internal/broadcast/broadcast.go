package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Scan is one student check-in event on a scanner session.
type Scan struct {
	SessionToken string    `json:"session_token"`
	StudentID    string    `json:"student_id"`
	StudentName  string    `json:"student_name"`
	SchoolID     string    `json:"school_id"`
	At           time.Time `json:"at"`
}

// NewSessionToken issues the opaque token a teacher's scanner session runs under.
func NewSessionToken() string {
	return uuid.NewString()
}

// Broadcaster is the abstraction over different fanout backends.
type Broadcaster interface {
	Publish(ctx context.Context, scan Scan) error
	Subscribe(ctx context.Context) (<-chan Scan, error)
}

// InMemory is a channel-backed broadcaster for single-instance deployments and tests.
type InMemory struct {
	mu   sync.Mutex
	subs []chan Scan
}

// NewInMemory creates an in-memory broadcaster.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Publish delivers the scan to every subscriber. Slow subscribers drop events
// rather than block the scanning path.
func (b *InMemory) Publish(ctx context.Context, scan Scan) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub <- scan:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of scans until the context ends.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Scan, error) {
	ch := make(chan Scan, 16)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}()
	return ch, nil
}

// RedisBroadcaster fans scans out over Redis pub/sub so scanner pages on
// different instances see the same session's scans.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedis builds a broadcaster over a Redis pub/sub channel.
func NewRedis(client *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = "rollcall:scans"
	}
	return &RedisBroadcaster{client: client, channel: channel}
}

// Publish sends the scan to the channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, scan Scan) error {
	payload, err := json.Marshal(scan)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe streams scans from the channel until the context ends.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan Scan, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	out := make(chan Scan, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var scan Scan
				if err := json.Unmarshal([]byte(msg.Payload), &scan); err != nil {
					continue
				}
				out <- scan
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
