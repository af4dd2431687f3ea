// Package lineageevent records which artifact versions a tracking run consumed
// and produced.
package lineageevent

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Direction string

const (
	Used     Direction = "used"
	Produced Direction = "produced"
)

type Event struct {
	OccurredAt time.Time
	RunID      string
	Direction  Direction
	VersionID  string
	Metadata   any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("RunID is required")
	}
	switch e.Direction {
	case Used, Produced:
	default:
		return fmt.Errorf("Direction must be %q or %q, got %q", Used, Produced, e.Direction)
	}
	if strings.TrimSpace(e.VersionID) == "" {
		return errors.New("VersionID is required")
	}
	return nil
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	integrity, err := ComputeIntegritySHA256(event, metadataJSON)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO lineage_events (
			occurred_at,
			run_id,
			direction,
			version_id,
			metadata,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.RunID),
		string(event.Direction),
		strings.TrimSpace(event.VersionID),
		metadataJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert lineage event: %w", err)
	}
	return id, nil
}

func ComputeIntegritySHA256(event Event, metadataJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		RunID      string          `json:"run_id"`
		Direction  string          `json:"direction"`
		VersionID  string          `json:"version_id"`
		Metadata   json.RawMessage `json:"metadata"`
	}

	blob, err := json.Marshal(integrityInput{
		OccurredAt: event.OccurredAt.UTC(),
		RunID:      strings.TrimSpace(event.RunID),
		Direction:  string(event.Direction),
		VersionID:  strings.TrimSpace(event.VersionID),
		Metadata:   metadataJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
