package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// RedisStore is a SnapshotStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>snapshot:<participant>:<session>  => JSON snapshot
//	<prefix>idx:runs                          => SET of "<participant>:<session>"
//
// The index is best-effort; it is updated on every Save and only used by List.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var (
	_ SnapshotStore  = (*RedisStore)(nil)
	_ SnapshotLister = (*RedisStore)(nil)
)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "epl:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "epl:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func runMember(id api.RunIdentity) string {
	return id.Participant + ":" + strconv.Itoa(id.Session)
}

func (s *RedisStore) keySnapshot(id api.RunIdentity) string {
	return s.prefix + "snapshot:" + runMember(id)
}

func (s *RedisStore) keyRuns() string {
	return s.prefix + "idx:runs"
}

func (s *RedisStore) Load(ctx context.Context, id api.RunIdentity) (*api.State, error) {
	data, err := s.client.Get(ctx, s.keySnapshot(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	st, _, err := DecodeSnapshot(data)
	return st, err
}

func (s *RedisStore) Save(ctx context.Context, st *api.State) error {
	data, err := EncodeSnapshot(st, s.now())
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keySnapshot(st.Identity), data, 0)
	pipe.SAdd(ctx, s.keyRuns(), runMember(st.Identity))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) List(ctx context.Context) ([]api.RunIdentity, error) {
	members, err := s.client.SMembers(ctx, s.keyRuns()).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]api.RunIdentity, 0, len(members))
	for _, m := range members {
		i := strings.LastIndexByte(m, ':')
		if i < 0 {
			return nil, fmt.Errorf("redis: malformed run index member %q", m)
		}
		n, err := strconv.Atoi(m[i+1:])
		if err != nil {
			return nil, fmt.Errorf("redis: malformed run index member %q: %w", m, err)
		}
		ids = append(ids, api.RunIdentity{Participant: m[:i], Session: n})
	}
	sortIdentities(ids)
	return ids, nil
}
