// Copyright 2025 Fabian Lopez
// SPDX-License-Identifier: Apache-2.0

package presqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fabianlopezdev/usa-presence-calculator-sub003/presync"
)

// SyncOutcome summarizes a single sync pass.
type SyncOutcome struct {
	PulledTrips     int
	PulledSettings  bool
	PushedTrips     int
	PushedSettings  bool
	DeletedTrips    int
	Conflicts       []presync.SyncConflict
	PartialConflict bool
}

// PushOptions control conflict behavior for a push pass.
type PushOptions struct {
	ForceOverwrite      bool
	ApplyNonConflicting bool
}

// SyncOnce performs one full sync pass: pull server changes since the local
// baseline, then push the pending-operation queue. Conflicts reported by the
// server are returned in the outcome; conflicted operations stay queued until
// the user resolves them.
func (c *Client) SyncOnce(ctx context.Context, opts PushOptions) (*SyncOutcome, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	outcome := &SyncOutcome{}
	if err := c.pullOnce(ctx, outcome); err != nil {
		return outcome, err
	}
	if err := c.pushOnce(ctx, opts, outcome); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// pullOnce downloads server changes page by page and applies them to the
// local mirror. Entities with a pending local edit are skipped so the queue
// remains the source of truth until the push settles them.
func (c *Client) pullOnce(ctx context.Context, outcome *SyncOutcome) error {
	for {
		since, err := c.lastSyncVersion(ctx)
		if err != nil {
			return err
		}
		req := &presync.PullRequest{LastSyncVersion: &since}

		var resp presync.PullResponse
		if err := c.postJSON(ctx, "/sync/pull", req, http.StatusOK, &resp); err != nil {
			return err
		}

		// Snapshot pending entities before the transaction takes the
		// connection; their rows must not be overwritten by the pull.
		pending, err := c.pendingEntityKeys(ctx)
		if err != nil {
			return err
		}

		tx, err := c.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin pull transaction: %w", err)
		}
		if err := c.applyPulled(ctx, tx, &resp, pending, outcome); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := c.setLastSyncVersion(ctx, tx, resp.SyncVersion); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to advance sync version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit pull transaction: %w", err)
		}

		if !resp.HasMore {
			return nil
		}
	}
}

func (c *Client) applyPulled(ctx context.Context, tx execer, resp *presync.PullResponse, pending map[string]bool, outcome *SyncOutcome) error {
	for _, trip := range resp.Trips {
		if pending[EntityTrip+"/"+trip.ID] {
			c.logger.Debug("skipping pulled trip with pending local edit", "trip_id", trip.ID)
			continue
		}
		if trip.DeletedAt != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, trip.ID); err != nil {
				return fmt.Errorf("failed to apply pulled deletion: %w", err)
			}
			outcome.PulledTrips++
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trips (id, user_id, departure_date, return_date, location, is_simulated,
			                   sync_id, device_id, sync_version, sync_status, deleted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
			ON CONFLICT (id) DO UPDATE SET
				departure_date = excluded.departure_date,
				return_date    = excluded.return_date,
				location       = excluded.location,
				is_simulated   = excluded.is_simulated,
				device_id      = excluded.device_id,
				sync_version   = excluded.sync_version,
				sync_status    = excluded.sync_status,
				deleted_at     = NULL,
				updated_at     = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		`, trip.ID, trip.UserID, trip.DepartureDate, trip.ReturnDate, trip.Location,
			boolToInt(trip.IsSimulated), trip.SyncID, trip.DeviceID, trip.SyncVersion,
			presync.SyncStatusSynced)
		if err != nil {
			return fmt.Errorf("failed to apply pulled trip: %w", err)
		}
		outcome.PulledTrips++
	}

	if resp.UserSettings != nil {
		if !pending[EntitySettings+"/"+c.UserID] && !pending[EntityUser+"/"+c.UserID] {
			if err := c.upsertLocalSettings(ctx, tx, resp.UserSettings); err != nil {
				return err
			}
			outcome.PulledSettings = true
		}
	}
	return nil
}

// pendingEntityKeys returns the set of "entityType/entityId" keys currently
// queued, including abandoned entries.
func (c *Client) pendingEntityKeys(ctx context.Context) (map[string]bool, error) {
	rows, err := c.DB.QueryContext(ctx, `SELECT entity_type, entity_id FROM _pending_ops`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var entityType, entityID string
		if err := rows.Scan(&entityType, &entityID); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}
		keys[entityType+"/"+entityID] = true
	}
	return keys, rows.Err()
}

// pushOnce drains the pending-operation queue in one batch.
func (c *Client) pushOnce(ctx context.Context, opts PushOptions, outcome *SyncOutcome) error {
	ops, err := c.GetQueueItems(ctx, c.config.PushLimit)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	baseline, err := c.lastSyncVersion(ctx)
	if err != nil {
		return err
	}
	req, err := buildPushRequest(ops, baseline+1, opts)
	if err != nil {
		return err
	}

	resp, err := c.sendPush(ctx, req)
	if err != nil {
		c.bumpRetries(ctx, ops)
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.bumpRetries(ctx, ops)
		return fmt.Errorf("failed to read push response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var pushResp presync.PushResponse
		if err := json.Unmarshal(body, &pushResp); err != nil {
			return fmt.Errorf("failed to decode push response: %w", err)
		}
		return c.settlePush(ctx, ops, nil, pushResp.SyncVersion, outcome)

	case http.StatusConflict:
		var conflictResp presync.ConflictResponse
		if err := json.Unmarshal(body, &conflictResp); err != nil {
			return fmt.Errorf("failed to decode conflict response: %w", err)
		}
		outcome.Conflicts = conflictResp.Conflicts
		if conflictResp.Error != presync.CodeSyncPartialConflict {
			// Full conflict: nothing was applied, everything stays queued.
			return nil
		}
		outcome.PartialConflict = true
		return c.settlePush(ctx, ops, conflictResp.Conflicts, req.SyncVersion, outcome)

	default:
		c.bumpRetries(ctx, ops)
		return fmt.Errorf("push failed with status %d: %s", resp.StatusCode, string(body))
	}
}

// buildPushRequest folds queue entries into a single push payload. The queue
// holds at most one entry per entity, so later entries never shadow earlier
// ones.
func buildPushRequest(ops []*PendingOperation, version int64, opts PushOptions) (*presync.PushRequest, error) {
	req := &presync.PushRequest{
		SyncVersion:         version,
		ForceOverwrite:      opts.ForceOverwrite,
		ApplyNonConflicting: opts.ApplyNonConflicting,
	}
	for _, op := range ops {
		switch {
		case op.Entity == EntityTrip && op.Type == OpDelete:
			req.DeletedTripIDs = append(req.DeletedTripIDs, op.EntityID)
		case op.Entity == EntityTrip:
			var trip presync.Trip
			if err := json.Unmarshal(op.Data, &trip); err != nil {
				return nil, fmt.Errorf("failed to decode queued trip %s: %w", op.EntityID, err)
			}
			req.Trips = append(req.Trips, trip)
		case op.Entity == EntitySettings || op.Entity == EntityUser:
			var settings presync.UserSettings
			if err := json.Unmarshal(op.Data, &settings); err != nil {
				return nil, fmt.Errorf("failed to decode queued settings: %w", err)
			}
			req.UserSettings = &settings
		}
	}
	return req, nil
}

// settlePush removes accepted operations from the queue, marks their local
// rows synced, and advances the baseline. Conflicted entities stay queued.
func (c *Client) settlePush(ctx context.Context, ops []*PendingOperation, conflicts []presync.SyncConflict, version int64, outcome *SyncOutcome) error {
	conflicted := make(map[string]bool, len(conflicts))
	for _, conf := range conflicts {
		conflicted[conf.EntityType+"/"+conf.EntityID] = true
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin settle transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if conflicted[entityKey(op)] {
			continue
		}
		switch {
		case op.Entity == EntityTrip && op.Type == OpDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, op.EntityID); err != nil {
				return fmt.Errorf("failed to finalize local deletion: %w", err)
			}
			outcome.DeletedTrips++
		case op.Entity == EntityTrip:
			_, err := tx.ExecContext(ctx, `
				UPDATE trips SET sync_status = ?, sync_version = ?,
				       updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
				WHERE id = ?`, presync.SyncStatusSynced, version, op.EntityID)
			if err != nil {
				return fmt.Errorf("failed to mark trip synced: %w", err)
			}
			outcome.PushedTrips++
		default:
			_, err := tx.ExecContext(ctx,
				`UPDATE user_settings SET sync_version = ? WHERE user_id = ?`, version, c.UserID)
			if err != nil {
				return fmt.Errorf("failed to mark settings synced: %w", err)
			}
			outcome.PushedSettings = true
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM _pending_ops WHERE id = ?`, op.ID); err != nil {
			return fmt.Errorf("failed to dequeue operation: %w", err)
		}
	}

	if err := c.setLastSyncVersion(ctx, tx, version); err != nil {
		return fmt.Errorf("failed to advance sync version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settle transaction: %w", err)
	}
	return nil
}

func entityKey(op *PendingOperation) string {
	entity := op.Entity
	if entity == EntityUser || entity == EntitySettings {
		entity = presync.EntityUserSettings
	}
	return entity + "/" + op.EntityID
}

func (c *Client) bumpRetries(ctx context.Context, ops []*PendingOperation) {
	for _, op := range ops {
		if err := c.UpdateRetryCount(ctx, op.ID); err != nil {
			c.logger.Warn("failed to update retry count", "op_id", op.ID, "error", err)
		}
	}
}

// Start runs the background sync loop until ctx is canceled. Each failure
// grows the backoff up to BackoffMax; a successful pass resets it.
func (c *Client) Start(ctx context.Context, interval time.Duration, opts PushOptions) {
	backoff := c.config.BackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		outcome, err := c.SyncOnce(ctx, opts)
		if err != nil {
			c.logger.Warn("sync pass failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.config.BackoffMax {
				backoff = c.config.BackoffMax
			}
			continue
		}
		backoff = c.config.BackoffMin
		if len(outcome.Conflicts) > 0 {
			c.logger.Info("sync pass reported conflicts", "count", len(outcome.Conflicts))
		}
	}
}

// postJSON sends a JSON request and decodes a JSON response, expecting the
// given status.
func (c *Client) postJSON(ctx context.Context, path string, payload any, wantStatus int, out any) error {
	resp, err := c.post(ctx, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) sendPush(ctx context.Context, req *presync.PushRequest) (*http.Response, error) {
	return c.post(ctx, "/sync/push", req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	token, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	return resp, nil
}
