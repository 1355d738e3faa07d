// pkg/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"school-quiz/internal/models"
)

// ErrMiss is returned when a key is not cached.
var ErrMiss = errors.New("cache miss")

type Options struct {
	Addr     string
	Password string
	DB       int
	ExamTTL  time.Duration
}

type RedisCache struct {
	client  *redis.Client
	examTTL time.Duration
}

func NewRedisCache(opts Options) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ttl := opts.ExamTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{
		client:  client,
		examTTL: ttl,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func examKey(id uint) string {
	return fmt.Sprintf("exam:%d", id)
}

// SetExam caches an exam together with its questions and options.
func (c *RedisCache) SetExam(ctx context.Context, exam *models.Exam) error {
	data, err := json.Marshal(exam)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, examKey(exam.ID), data, c.examTTL).Err()
}

func (c *RedisCache) GetExam(ctx context.Context, id uint) (*models.Exam, error) {
	data, err := c.client.Get(ctx, examKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	var exam models.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		return nil, err
	}
	return &exam, nil
}

func (c *RedisCache) InvalidateExam(ctx context.Context, id uint) error {
	return c.client.Del(ctx, examKey(id)).Err()
}
