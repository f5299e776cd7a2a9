package stores

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/oarkflow/rolepolicy"
	"github.com/redis/go-redis/v9"
)

// RedisOfficeStore keeps each office in a hash (key: office:{id}) and its host
// roster in a set (key: office:{id}:roster). Roster updates run under WATCH so
// the set and the host count move together.
type RedisOfficeStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "office:%s"
}

func NewRedisOfficeStore(client *redis.Client) *RedisOfficeStore {
	return &RedisOfficeStore{client: client, keyFmt: "office:%s"}
}

func (r *RedisOfficeStore) key(officeID string) string {
	return fmt.Sprintf(r.keyFmt, officeID)
}

func (r *RedisOfficeStore) rosterKey(officeID string) string {
	return r.key(officeID) + ":roster"
}

func (r *RedisOfficeStore) CreateOffice(ctx context.Context, o *rolepolicy.Office) error {
	seed := &rolepolicy.Office{ID: o.ID, Name: o.Name, City: o.City, Version: 1}
	for _, email := range o.HostRosterEmails {
		rolepolicy.ApplyRosterChange(seed, rolepolicy.RosterChange{OfficeID: o.ID, Email: email, Op: rolepolicy.RosterAdd})
	}
	seed.CreatedAt = time.Now().UTC()
	seed.UpdatedAt = seed.CreatedAt
	key := r.key(o.ID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("office already exists: %s", o.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"name", seed.Name,
				"city", seed.City,
				"host_count", seed.HostCount,
				"version", seed.Version,
				"created_at", seed.CreatedAt.Format(time.RFC3339Nano),
				"updated_at", seed.UpdatedAt.Format(time.RFC3339Nano),
			)
			if len(seed.HostRosterEmails) > 0 {
				members := make([]any, len(seed.HostRosterEmails))
				for i, e := range seed.HostRosterEmails {
					members[i] = e
				}
				pipe.SAdd(ctx, r.rosterKey(o.ID), members...)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return conflictOr(err)
	}
	*o = *seed.Clone()
	return nil
}

func (r *RedisOfficeStore) GetOffice(ctx context.Context, id string) (*rolepolicy.Office, error) {
	return r.load(ctx, r.client, id)
}

type redisReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

func (r *RedisOfficeStore) load(ctx context.Context, c redisReader, id string) (*rolepolicy.Office, error) {
	fields, err := c.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, rolepolicy.OfficeNotFound(id)
	}
	members, err := c.SMembers(ctx, r.rosterKey(id)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	o := &rolepolicy.Office{
		ID:               id,
		Name:             fields["name"],
		City:             fields["city"],
		HostRosterEmails: members,
		HostCount:        len(members),
	}
	o.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	if t, err := parseFlexibleTime(fields["created_at"]); err == nil {
		o.CreatedAt = t
	}
	if t, err := parseFlexibleTime(fields["updated_at"]); err == nil {
		o.UpdatedAt = t
	}
	return o, nil
}

func (r *RedisOfficeStore) ApplyRoster(ctx context.Context, change rolepolicy.RosterChange) (*rolepolicy.Office, error) {
	key := r.key(change.OfficeID)
	var out *rolepolicy.Office
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		o, err := r.load(ctx, tx, change.OfficeID)
		if err != nil {
			return err
		}
		if !rolepolicy.ApplyRosterChange(o, change) {
			out = o
			return nil
		}
		o.Version++
		o.UpdatedAt = time.Now().UTC()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if change.Op == rolepolicy.RosterAdd {
				pipe.SAdd(ctx, r.rosterKey(o.ID), normalize(change.Email))
			} else {
				pipe.SRem(ctx, r.rosterKey(o.ID), normalize(change.Email))
			}
			pipe.HSet(ctx, key,
				"host_count", o.HostCount,
				"version", o.Version,
				"updated_at", o.UpdatedAt.Format(time.RFC3339Nano),
			)
			return nil
		})
		if err != nil {
			return err
		}
		out = o
		return nil
	}, key, r.rosterKey(change.OfficeID))
	if err != nil {
		return nil, conflictOr(err)
	}
	return out, nil
}

func conflictOr(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("office watch failed: %w", rolepolicy.ErrConcurrencyConflict)
	}
	return err
}
