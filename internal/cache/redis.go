package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keyrelay/internal/config"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "kr"
	dialTimeout   = 3 * time.Second
	ioTimeout     = 2 * time.Second
	pingTimeout   = 2 * time.Second
)

var (
	mu     sync.RWMutex
	client *redis.Client
	prefix = defaultPrefix
)

// InitRedis 初始化 Redis 客户端，连接失败时保持禁用并返回错误
func InitRedis(cfg *config.RedisConfig) error {
	if cfg == nil || !cfg.Enabled {
		Use(nil, "")
		return nil
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  ioTimeout,
		WriteTimeout: ioTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		Use(nil, "")
		return fmt.Errorf("ping redis %s:%d: %w", host, port, err)
	}
	Use(rdb, cfg.Prefix)
	return nil
}

// Use 直接注入 Redis 客户端，nil 表示禁用
func Use(c *redis.Client, keyPrefix string) {
	mu.Lock()
	defer mu.Unlock()
	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = defaultPrefix
	}
	client = c
	prefix = keyPrefix
}

// Reset 关闭并清空客户端
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	client = nil
}

// Enabled 判断缓存是否启用
func Enabled() bool {
	return Client() != nil
}

// Client 获取 Redis 客户端，未启用返回 nil
func Client() *redis.Client {
	mu.RLock()
	defer mu.RUnlock()
	return client
}

// Ping 检查连接
func Ping(ctx context.Context) error {
	rdb := Client()
	if rdb == nil {
		return nil
	}
	return rdb.Ping(ctx).Err()
}

// GetJSON 读取 JSON 缓存，未命中返回 false
func GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	rdb := Client()
	if rdb == nil {
		return false, nil
	}
	raw, err := rdb.Get(ctx, buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 写入 JSON 缓存
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return SetJSONMulti(ctx, []string{key}, value, ttl)
}

// SetJSONMulti 同一值写入多个 key，单次往返
func SetJSONMulti(ctx context.Context, keys []string, value interface{}, ttl time.Duration) error {
	rdb := Client()
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Set(ctx, buildKey(key), payload, ttl)
		}
		return nil
	})
	return err
}

// Del 删除缓存
func Del(ctx context.Context, keys ...string) error {
	rdb := Client()
	if rdb == nil || len(keys) == 0 {
		return nil
	}
	built := make([]string, 0, len(keys))
	for _, key := range keys {
		built = append(built, buildKey(key))
	}
	return rdb.Del(ctx, built...).Err()
}

func buildKey(key string) string {
	mu.RLock()
	p := prefix
	mu.RUnlock()
	if trimmed := strings.TrimSpace(key); trimmed != "" {
		return p + ":" + trimmed
	}
	return p
}
