package backend

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TypingTTL bounds how long a typing advertisement survives without a
// refresh. There is no disconnect hook on the backend; expiry is what
// removes a crashed client's indicator. Clients that are still typing must
// re-write their key well inside this window.
const TypingTTL = 10 * time.Second

const (

	// typingPollInterval catches TTL expiries, which publish no event.
	typingPollInterval = 2 * time.Second

	evtMessage = "message"
	evtTyping  = "typing"
)

// RedisGateway implements Gateway against a Redis backend: one JSON record
// per message id, a timestamp-scored index set for windowing/pagination,
// per-device typing keys with TTL, and a pub/sub channel carrying change
// notifications that drive the live subscriptions.
type RedisGateway struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisGateway connects and pings the Redis backend.
func NewRedisGateway(addr, prefix string, logger *zap.Logger) (*RedisGateway, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisGateway{rdb: rdb, prefix: prefix, logger: logger}, nil
}

func (g *RedisGateway) messageKey(id string) string { return g.prefix + ":message:" + id }
func (g *RedisGateway) indexKey() string            { return g.prefix + ":messages" }
func (g *RedisGateway) typingKey(device string) string {
	return g.prefix + ":typing:" + device
}
func (g *RedisGateway) eventsChannel() string { return g.prefix + ":events" }

// Send upserts the message record and its index entry, then notifies
// subscribers.
func (g *RedisGateway) Send(ctx context.Context, msg Message) error {
	raw, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}

	pipe := g.rdb.TxPipeline()
	pipe.Set(ctx, g.messageKey(msg.ID), raw, 0)
	pipe.ZAdd(ctx, g.indexKey(), goredis.Z{Score: float64(msg.Timestamp), Member: msg.ID})
	pipe.Publish(ctx, g.eventsChannel(), evtMessage)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("send %s: %w", msg.ID, err)
	}
	return nil
}

// Delete hard-deletes the record and its index entry.
func (g *RedisGateway) Delete(ctx context.Context, messageID string) error {
	pipe := g.rdb.TxPipeline()
	pipe.Del(ctx, g.messageKey(messageID))
	pipe.ZRem(ctx, g.indexKey(), messageID)
	pipe.Publish(ctx, g.eventsChannel(), evtMessage)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", messageID, err)
	}
	return nil
}

// FetchOlder pages backwards: the newest limit messages with timestamp
// strictly below beforeTs, returned ascending.
func (g *RedisGateway) FetchOlder(ctx context.Context, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	ids, err := g.rdb.ZRevRangeByScore(ctx, g.indexKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(beforeTs, 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch older than %d: %w", beforeTs, err)
	}
	return g.loadMessages(ctx, ids)
}

// Subscribe opens the live window feed.
func (g *RedisGateway) Subscribe(ctx context.Context, window int) (*Subscription, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	pubsub := g.rdb.Subscribe(ctx, g.eventsChannel())
	// Confirms the subscription actually started before the initial read,
	// so no change falls between the two.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	windows := make(chan []Message, 8)
	errs := make(chan error, 4)

	emit := func() {
		msgs, err := g.readWindow(ctx, window)
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			return
		}
		select {
		case windows <- msgs:
		case <-ctx.Done():
		}
	}

	go func() {
		defer func() {
			_ = pubsub.Close()
			close(windows)
			close(errs)
		}()

		emit()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if m.Payload == evtMessage {
					emit()
				}
			}
		}
	}()

	return &Subscription{Windows: windows, Errs: errs}, nil
}

// SetTyping writes this device's typing advertisement with a fresh TTL.
func (g *RedisGateway) SetTyping(ctx context.Context, deviceID, name string) error {
	pipe := g.rdb.TxPipeline()
	pipe.Set(ctx, g.typingKey(deviceID), name, TypingTTL)
	pipe.Publish(ctx, g.eventsChannel(), evtTyping)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// ClearTyping removes this device's typing advertisement.
func (g *RedisGateway) ClearTyping(ctx context.Context, deviceID string) error {
	pipe := g.rdb.TxPipeline()
	pipe.Del(ctx, g.typingKey(deviceID))
	pipe.Publish(ctx, g.eventsChannel(), evtTyping)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear typing: %w", err)
	}
	return nil
}

// SubscribeTyping streams the set of typing display names. Change events
// trigger an immediate re-read; a slow poll catches silent TTL expiries.
func (g *RedisGateway) SubscribeTyping(ctx context.Context) (<-chan []string, error) {
	pubsub := g.rdb.Subscribe(ctx, g.eventsChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe typing: %w", err)
	}

	out := make(chan []string, 8)

	go func() {
		defer func() {
			_ = pubsub.Close()
			close(out)
		}()

		var last []string
		emit := func() {
			names, err := g.readTypingSet(ctx)
			if err != nil {
				g.logger.Warn("read typing set", zap.Error(err))
				return
			}
			if slices.Equal(names, last) {
				return
			}
			last = names
			select {
			case out <- names:
			case <-ctx.Done():
			}
		}

		emit()

		ticker := time.NewTicker(typingPollInterval)
		defer ticker.Stop()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if m.Payload == evtTyping {
					emit()
				}
			case <-ticker.C:
				emit()
			}
		}
	}()

	return out, nil
}

func (g *RedisGateway) Close() error {
	return g.rdb.Close()
}

func (g *RedisGateway) readWindow(ctx context.Context, window int) ([]Message, error) {
	ids, err := g.rdb.ZRevRange(ctx, g.indexKey(), 0, int64(window-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}
	return g.loadMessages(ctx, ids)
}

// loadMessages resolves ids to decoded records, skipping entries whose
// record vanished between the index read and the value read (deletes race
// the window re-read by design), and returns them ascending by timestamp.
func (g *RedisGateway) loadMessages(ctx context.Context, ids []string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = g.messageKey(id)
	}
	vals, err := g.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	msgs := make([]Message, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		m, err := decodeMessage([]byte(s))
		if err != nil {
			g.logger.Warn("bad message record", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	sortByTimestamp(msgs)
	return msgs, nil
}

func (g *RedisGateway) readTypingSet(ctx context.Context) ([]string, error) {
	var keys []string
	iter := g.rdb.Scan(ctx, 0, g.typingKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := g.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return names, nil
}

func sortByTimestamp(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
}
