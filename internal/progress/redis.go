package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cadence-import/internal/model"
)

const publishTimeout = 2 * time.Second

// Channel returns the pub/sub channel for a session.
func Channel(sessionID string) string {
	return "import:" + sessionID
}

// RedisClient is the subset of *redis.Client the reporter uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisReporter publishes events with Redis PUBLISH. Nobody listening means
// the event is dropped.
type RedisReporter struct {
	client RedisClient
}

// NewRedisReporter creates a RedisReporter.
func NewRedisReporter(client RedisClient) *RedisReporter {
	return &RedisReporter{client: client}
}

func (r *RedisReporter) Progress(ctx context.Context, sessionID string, index, size int) {
	r.publish(ctx, sessionID, ProgressEvent(index, size))
}

func (r *RedisReporter) Result(ctx context.Context, sessionID string, result model.BatchResult) {
	r.publish(ctx, sessionID, ResultEvent(result))
}

func (r *RedisReporter) publish(ctx context.Context, sessionID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Warn("progress: marshal event", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	receivers, err := r.client.Publish(ctx, Channel(sessionID), payload).Result()
	if err != nil {
		zap.L().Warn("progress: publish failed",
			zap.String("session_id", sessionID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	zap.L().Debug("progress: published",
		zap.String("session_id", sessionID),
		zap.String("type", string(ev.Type)),
		zap.Int64("receivers", receivers),
	)
}

// Subscribe streams the events of a session until ctx is done or the result
// event arrives. The returned channel is closed on exit.
func (r *RedisReporter) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	sub := r.client.Subscribe(ctx, Channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "progress: subscribe %s", sessionID)
	}

	out := make(chan Event)
	go func() {
		defer sub.Close() //nolint:errcheck
		forward(ctx, sub.Channel(), out)
	}()
	return out, nil
}

// forward decodes pub/sub messages into events. It stops after a result
// event, when msgs closes, or when ctx is done, and always closes out.
func forward(ctx context.Context, msgs <-chan *redis.Message, out chan<- Event) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				zap.L().Warn("progress: bad event payload", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == EventResult {
				return
			}
		}
	}
}
