package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// CreationCache remembers which registry patient was created (or chosen) for
// each external record id within a session.  Two files in the same batch that
// parse to the same external record id must resolve to the same patient; the
// orchestrator consults this cache before creating a new registry record.
//
// Entries expire with the session TTL; the durable backstop is the registry's
// unique record-number constraint.
type CreationCache struct {
	client *Client
	ttl    time.Duration
	logger logging.Logger
}

// NewCreationCache constructs the cache.  ttl bounds how long a session's
// entries outlive its last write.
func NewCreationCache(client *Client, ttl time.Duration, log logging.Logger) *CreationCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CreationCache{client: client, ttl: ttl, logger: log}
}

// LookupPatient returns the patient already bound to the external record id
// in this session, if any.
func (c *CreationCache) LookupPatient(ctx context.Context, sessionID common.SessionID, externalRecordID string) (common.PatientID, bool, error) {
	key := c.client.key("creation", string(sessionID), externalRecordID)
	val, err := c.client.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, errors.ErrCodeCacheError, "creation cache lookup failed")
	}
	return common.PatientID(val), true, nil
}

// RememberPatient binds the external record id to a patient for the rest of
// the session.  SetNX keeps the first binding authoritative under concurrent
// writers; the existing binding is returned either way.
func (c *CreationCache) RememberPatient(ctx context.Context, sessionID common.SessionID, externalRecordID string, patientID common.PatientID) (common.PatientID, error) {
	key := c.client.key("creation", string(sessionID), externalRecordID)
	set, err := c.client.rdb.SetNX(ctx, key, string(patientID), c.ttl).Result()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeCacheError, "creation cache store failed")
	}
	if set {
		return patientID, nil
	}
	val, err := c.client.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeCacheError, "creation cache readback failed")
	}
	c.logger.Debug("external record id already bound in session",
		logging.String("session_id", string(sessionID)),
		logging.String("external_record_id", externalRecordID),
		logging.String("patient_id", val),
	)
	return common.PatientID(val), nil
}

// PurgeSession removes every cache entry belonging to the session.  Called
// by the administrative cleanup operation.
func (c *CreationCache) PurgeSession(ctx context.Context, sessionID common.SessionID) error {
	pattern := c.client.key("creation", string(sessionID), "*")
	iter := c.client.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "creation cache scan failed")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "creation cache purge failed")
	}
	return nil
}
