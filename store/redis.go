/*
Copyright 2024 Payline Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisKV backs the entity store with Redis. SETNX gives CreateOnly its
// fails-if-exists atomicity at the storage layer, which is the one
// guarantee the allocator and payout executor depend on.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV wraps an existing Redis client as a KV.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Read(ctx context.Context, key string, out interface{}) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s", key)
	}
	return json.Unmarshal(raw, out)
}

func (r *RedisKV) CreateOnly(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	created, err := r.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "claiming %s", key)
	}
	if !created {
		return ErrKeyExists
	}
	return nil
}

func (r *RedisKV) Write(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return errors.Wrapf(err, "writing %s", key)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "deleting %s", key)
	}
	return nil
}

func (r *RedisKV) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	matches := make(map[string][]byte)
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s during scan", key)
		}
		matches[key] = raw
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "scanning %s", prefix)
	}
	return matches, nil
}
