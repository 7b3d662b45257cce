package caching

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"fitforge/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type CacheService interface {
	// Subscription record caching
	GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	SetSubscription(ctx context.Context, sub *models.Subscription, ttl time.Duration) error
	DeleteSubscription(ctx context.Context, userID uuid.UUID) error

	// Webhook event dedupe. MarkEventProcessing returns false when the event
	// id was already claimed within the TTL window.
	MarkEventProcessing(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error

	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client *redis.Client
}

func NewRedisCacheService(addr, password string, db int) CacheService {
	// Accept redis://host:port URLs as well as bare host:port.
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if hostPort := strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://"); hostPort != addr {
			parsedAddr = hostPort
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})

	if pingErr := client.Ping(context.Background()).Err(); pingErr != nil {
		log.Printf("WARN: Redis ping failed on initialization: %v (address: %s)", pingErr, parsedAddr)
	}

	return &redisCacheService{client: client}
}

func subscriptionKey(userID uuid.UUID) string {
	return fmt.Sprintf("subscription:%s", userID)
}

func eventKey(eventID string) string {
	return fmt.Sprintf("billing:event:%s", eventID)
}

func (s *redisCacheService) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	data, err := s.client.Get(ctx, subscriptionKey(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sub models.Subscription
	if err := json.Unmarshal([]byte(data), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *redisCacheService) SetSubscription(ctx context.Context, sub *models.Subscription, ttl time.Duration) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, subscriptionKey(sub.UserID), data, ttl).Err()
}

func (s *redisCacheService) DeleteSubscription(ctx context.Context, userID uuid.UUID) error {
	return s.client.Del(ctx, subscriptionKey(userID)).Err()
}

func (s *redisCacheService) MarkEventProcessing(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, eventKey(eventID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (s *redisCacheService) ReleaseEvent(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, eventKey(eventID)).Err()
}

func (s *redisCacheService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
