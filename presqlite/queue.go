// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PendingOperation is a queued local mutation awaiting push to the server.
type PendingOperation struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`       // create | update | delete
	Entity     string          `json:"entity"`     // trip | user | settings
	EntityID   string          `json:"entityId"`   //
	Data       json.RawMessage `json:"data"`       // Full entity payload; nil for deletes
	Timestamp  time.Time       `json:"timestamp"`  //
	RetryCount int             `json:"retryCount"` //
}

// AddToQueue appends a pending operation. Callers that hold no lock; internal
// paths use addToQueueLocked under writeMu.
func (c *Client) AddToQueue(ctx context.Context, opType, entityType, entityID string, data json.RawMessage) (*PendingOperation, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.addToQueueLocked(ctx, opType, entityType, entityID, data)
}

func (c *Client) addToQueueLocked(ctx context.Context, opType, entityType, entityID string, data json.RawMessage) (*PendingOperation, error) {
	op := &PendingOperation{
		ID:        uuid.New().String(),
		Type:      opType,
		Entity:    entityType,
		EntityID:  entityID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	var payload any
	if data != nil {
		payload = string(data)
	}
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO _pending_ops (id, op_type, entity_type, entity_id, payload, ts, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, op.ID, op.Type, op.Entity, op.EntityID, payload, op.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return op, nil
}

// GetQueueItems returns up to limit sendable operations, oldest first.
// Operations at or beyond the retry ceiling are excluded.
func (c *Client) GetQueueItems(ctx context.Context, limit int) ([]*PendingOperation, error) {
	if limit <= 0 {
		limit = c.config.PushLimit
	}
	rows, err := c.DB.QueryContext(ctx, `
		SELECT id, op_type, entity_type, entity_id, payload, ts, retry_count
		FROM _pending_ops
		WHERE retry_count < ?
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, MaxRetryCount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

// FailedOperations returns queue entries that exhausted their retries. They
// are kept for the user to inspect, retry manually, or discard.
func (c *Client) FailedOperations(ctx context.Context) ([]*PendingOperation, error) {
	rows, err := c.DB.QueryContext(ctx, `
		SELECT id, op_type, entity_type, entity_id, payload, ts, retry_count
		FROM _pending_ops
		WHERE retry_count >= ?
		ORDER BY ts ASC, id ASC
	`, MaxRetryCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed operations: %w", err)
	}
	defer rows.Close()
	return scanQueueRows(rows)
}

func scanQueueRows(rows *sql.Rows) ([]*PendingOperation, error) {
	var ops []*PendingOperation
	for rows.Next() {
		var (
			op      PendingOperation
			payload sql.NullString
			ts      string
		)
		if err := rows.Scan(&op.ID, &op.Type, &op.Entity, &op.EntityID, &payload, &ts, &op.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		if payload.Valid {
			op.Data = json.RawMessage(payload.String)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			parsed, err = time.Parse("2006-01-02T15:04:05.000Z", ts)
			if err != nil {
				return nil, fmt.Errorf("failed to parse operation timestamp %q: %w", ts, err)
			}
		}
		op.Timestamp = parsed
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// UpdateRetryCount bumps the retry counter after a failed push attempt.
func (c *Client) UpdateRetryCount(ctx context.Context, opID string) error {
	_, err := c.DB.ExecContext(ctx,
		`UPDATE _pending_ops SET retry_count = retry_count + 1 WHERE id = ?`, opID)
	if err != nil {
		return fmt.Errorf("failed to update retry count: %w", err)
	}
	return nil
}

// ResetRetryCount re-arms an abandoned operation for another round of pushes.
func (c *Client) ResetRetryCount(ctx context.Context, opID string) error {
	_, err := c.DB.ExecContext(ctx,
		`UPDATE _pending_ops SET retry_count = 0 WHERE id = ?`, opID)
	if err != nil {
		return fmt.Errorf("failed to reset retry count: %w", err)
	}
	return nil
}

// RemoveFromQueue deletes an operation after it was accepted by the server.
func (c *Client) RemoveFromQueue(ctx context.Context, opID string) error {
	_, err := c.DB.ExecContext(ctx, `DELETE FROM _pending_ops WHERE id = ?`, opID)
	if err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	return nil
}

// ClearEntityFromQueue drops all queued operations for one entity, e.g. when
// the user resolves a conflict by accepting the server version.
func (c *Client) ClearEntityFromQueue(ctx context.Context, entityType, entityID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.clearEntityLocked(ctx, entityType, entityID)
}

func (c *Client) clearEntityLocked(ctx context.Context, entityType, entityID string) error {
	_, err := c.DB.ExecContext(ctx,
		`DELETE FROM _pending_ops WHERE entity_type = ? AND entity_id = ?`, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to clear entity from queue: %w", err)
	}
	return nil
}

// ClearAllQueues empties the pending-operation queue, e.g. on sign-out.
func (c *Client) ClearAllQueues(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.DB.ExecContext(ctx, `DELETE FROM _pending_ops`)
	if err != nil {
		return fmt.Errorf("failed to clear queues: %w", err)
	}
	return nil
}

// QueueSize returns the number of sendable (non-abandoned) queue entries.
func (c *Client) QueueSize(ctx context.Context) (int, error) {
	var n int
	err := c.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM _pending_ops WHERE retry_count < ?`, MaxRetryCount).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}
