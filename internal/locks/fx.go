package locks

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/railpost/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("locks",
	fx.Provide(NewLocker),
)

// NewLocker prefers the shared redis lock when configured, falling back to
// an in-process keyed mutex for single-instance deployments.
func NewLocker(cfg config.Config, log *zap.Logger) Locker {
	if cfg.RedisAddr == "" {
		log.Info("redis not configured, using in-process payment locks")
		return NewKeyedMutex()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisLocker(client)
}
