package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aloy/roommate-booking/internal/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimitService limits invite-code join attempts per tenant and per IP
// using fixed Redis counters
type RateLimitService struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
	logger      *logrus.Logger
}

// NewRateLimitService creates a new rate limit service. A nil client
// disables limiting.
func NewRateLimitService(client *redis.Client, cfg config.RedisConfig, logger *logrus.Logger) *RateLimitService {
	return &RateLimitService{
		client:      client,
		maxAttempts: int64(cfg.JoinAttempts),
		window:      time.Duration(cfg.JoinWindowSeconds) * time.Second,
		logger:      logger,
	}
}

// NewRedisClient parses a redis:// URL. An empty URL returns nil.
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	Type       string // "tenant" or "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// CheckJoinAttempt counts one join attempt for the tenant and the IP and
// fails once either counter passes the limit. Redis outages allow the attempt.
func (s *RateLimitService) CheckJoinAttempt(ctx context.Context, tenantID uuid.UUID, ip string) error {
	if s == nil || s.client == nil {
		return nil
	}

	if err := s.hit(ctx, "tenant", tenantID.String()); err != nil {
		return err
	}
	if ip != "" {
		if err := s.hit(ctx, "ip", ip); err != nil {
			return err
		}
	}
	return nil
}

func (s *RateLimitService) hit(ctx context.Context, identifierType, identifier string) error {
	key := joinAttemptKey(identifierType, identifier)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Join rate limiter unavailable, allowing attempt")
		return nil
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.window).Err(); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to set join limiter expiry")
		}
	}

	if count <= s.maxAttempts {
		return nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = s.window
	}
	retryAfter := time.Now().Add(ttl)

	s.logger.WithFields(logrus.Fields{
		"type":     identifierType,
		"attempts": count,
	}).Warn("Join attempts rate limited")

	return &RateLimitError{
		Message:    fmt.Sprintf("Too many join attempts. Please try again after %s", retryAfter.Format("15:04:05")),
		RetryAfter: retryAfter,
		Type:       identifierType,
	}
}

func joinAttemptKey(identifierType, identifier string) string {
	return "join_attempts:" + identifierType + ":" + identifier
}
