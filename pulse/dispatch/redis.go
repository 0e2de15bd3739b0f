package dispatch

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
)

// claimScript removes a member only while it is still due, so a concurrent
// re-arm to a later time is never consumed by a stale poll.
var claimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
	return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// RedisConfig contains configuration for the Redis substrate
type RedisConfig struct {
	Key       string        // Sorted set holding job IDs scored by fire time (unix ms)
	Interval  time.Duration // Poll interval
	BatchSize int64         // Max wake-ups claimed per poll
}

// Redis keeps wake-ups in a sorted set; several daemons may poll one key.
type Redis struct {
	client   redis.UniversalClient
	cfg      RedisConfig
	now      func() time.Time
	deliver  Deliver
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pulseLog *zap.SugaredLogger
}

// NewRedis creates a Redis-backed substrate
func NewRedis(client redis.UniversalClient, cfg RedisConfig, log *zap.SugaredLogger) *Redis {
	return NewRedisWithClock(client, cfg, time.Now, log)
}

// NewRedisWithClock creates a Redis-backed substrate with a custom clock
func NewRedisWithClock(client redis.UniversalClient, cfg RedisConfig, now func() time.Time, log *zap.SugaredLogger) *Redis {
	if cfg.Key == "" {
		cfg.Key = "pulse:wakeups"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Redis{
		client:   client,
		cfg:      cfg,
		now:      now,
		pulseLog: logger.AddPulseSymbol(log).With(logger.FieldBackend, "redis"),
	}
}

// Arm implements Substrate. ZADD replaces the score of an existing member.
func (r *Redis) Arm(ctx context.Context, jobID string, at time.Time) error {
	if err := r.client.ZAdd(ctx, r.cfg.Key, redis.Z{Score: float64(at.UnixMilli()), Member: jobID}).Err(); err != nil {
		return errors.Wrapf(err, "failed to arm wake-up for %s", jobID)
	}
	return nil
}

// Disarm implements Substrate
func (r *Redis) Disarm(ctx context.Context, jobID string) error {
	if err := r.client.ZRem(ctx, r.cfg.Key, jobID).Err(); err != nil {
		return errors.Wrapf(err, "failed to disarm wake-up for %s", jobID)
	}
	return nil
}

// ArmedAt implements Inspector
func (r *Redis) ArmedAt(ctx context.Context, jobID string) (time.Time, bool, error) {
	score, err := r.client.ZScore(ctx, r.cfg.Key, jobID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "failed to read wake-up for %s", jobID)
	}
	return time.UnixMilli(int64(score)).UTC(), true, nil
}

// Start implements Substrate
func (r *Redis) Start(deliver Deliver) error {
	if err := r.client.Ping(context.Background()).Err(); err != nil {
		return errors.Wrap(err, "redis unreachable")
	}
	r.deliver = deliver
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.run()
	r.pulseLog.Infow("Redis dispatcher started", "key", r.cfg.Key, "interval", r.cfg.Interval)
	return nil
}

// Stop implements Substrate
func (r *Redis) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.pulseLog.Infow("Redis dispatcher stopped")
}

func (r *Redis) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Poll(r.ctx); err != nil && r.ctx.Err() == nil {
				r.pulseLog.Warnw("Redis poll error", logger.FieldError, err)
			}
		}
	}
}

// Poll claims and delivers every due wake-up once. Returns the number delivered.
func (r *Redis) Poll(ctx context.Context) (int, error) {
	nowMs := r.now().UnixMilli()
	max := strconv.FormatInt(nowMs, 10)

	due, err := r.client.ZRangeByScoreWithScores(ctx, r.cfg.Key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list due wake-ups")
	}

	delivered := 0
	for _, z := range due {
		jobID, ok := z.Member.(string)
		if !ok {
			continue
		}
		claimed, err := claimScript.Run(ctx, r.client, []string{r.cfg.Key}, jobID, nowMs).Int()
		if err != nil {
			return delivered, errors.Wrapf(err, "failed to claim wake-up for %s", jobID)
		}
		if claimed == 0 {
			continue
		}

		r.pulseLog.Debugw("Wake-up fired",
			logger.FieldJobID, jobID,
			logger.FieldFireAt, time.UnixMilli(int64(z.Score)).UTC())
		if r.deliver != nil {
			r.deliver(jobID)
		}
		delivered++
	}
	return delivered, nil
}
