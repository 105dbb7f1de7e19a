package nut

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sqrl_server/internal/model"
	redisSvc "sqrl_server/internal/service/redis"
)

type (
	// RedisRegistry persists nut records as JSON values with the registry
	// TTL. The single-use claim is a SETNX on a side key, which is the
	// linearization point between racing consumers.
	RedisRegistry struct {
		redisService *redisSvc.RedisService
		ttl          time.Duration
	}
)

func NewRedisRegistry(redisService *redisSvc.RedisService, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{
		redisService: redisService,
		ttl:          ttl,
	}
}

func recordKey(nutVal string) string {
	return fmt.Sprintf("sqrl:nut:%s", nutVal)
}

func claimKey(nutVal string) string {
	return fmt.Sprintf("sqrl:nut:%s:claimed", nutVal)
}

func (r *RedisRegistry) Issue(ctx context.Context, un model.UrlAndNut, originNut string) error {
	if originNut != "" {
		parent, err := r.Lookup(ctx, originNut)
		if err != nil {
			return err
		}
		if parent != nil && parent.OriginalLoginNut != "" {
			originNut = parent.OriginalLoginNut
		}
	}

	rec := model.NutRecord{
		Nut:              un.Nut,
		URL:              un.URL,
		CreatedAt:        time.Now(),
		OriginalLoginNut: originNut,
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	return r.redisService.Set(ctx, recordKey(un.Nut), data, r.ttl)
}

func (r *RedisRegistry) Lookup(ctx context.Context, nutVal string) (*model.NutRecord, error) {
	v, err := r.redisService.Get(ctx, recordKey(nutVal))
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec model.NutRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisRegistry) Consume(ctx context.Context, nutVal string) (*model.NutRecord, error) {
	rec, err := r.Lookup(ctx, nutVal)
	if err != nil || rec == nil {
		return nil, err
	}

	claimed, err := r.redisService.SetNX(ctx, claimKey(nutVal), "1", r.ttl)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// someone already spent this nut
		return nil, nil
	}
	return rec, nil
}

func (r *RedisRegistry) MarkLoggedIn(ctx context.Context, originNut, identityKey string) error {
	rec, err := r.Lookup(ctx, originNut)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("mark logged in: unknown origin nut %q", originNut)
	}
	if rec.OriginalLoginNut != "" {
		originNut = rec.OriginalLoginNut
		if origin, err := r.Lookup(ctx, originNut); err != nil {
			return err
		} else if origin != nil {
			rec = origin
		}
	}

	rec.LoggedIn = true
	rec.IdentityKey = identityKey

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.redisService.Set(ctx, recordKey(rec.Nut), data, goredis.KeepTTL)
}
