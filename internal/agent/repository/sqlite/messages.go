package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/agent/repository"
	"github.com/agentdeck/agentdeck/internal/common/errors"
)

const messageColumns = `id, agent_id, sequence_number, type, role, content, raw, metadata, created_at`

// Append persists one message. The sequence number is allocated inside the
// INSERT itself; a read-max-then-insert split would corrupt ordering under
// concurrency. Unique collisions (possible under postgres, where writes are
// not serialized on one connection) are retried transparently.
func (r *Repository) Append(ctx context.Context, input repository.MessageInput) (*domain.Message, error) {
	content, err := repository.EncodeContent(input.Content)
	if err != nil {
		return nil, err
	}

	metadataJSON := "{}"
	if input.Metadata != nil {
		metadataBytes, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, errors.InternalError("serializing message metadata", err)
		}
		metadataJSON = string(metadataBytes)
	}

	var role, raw sql.NullString
	if input.Role != "" {
		role = sql.NullString{String: input.Role, Valid: true}
	}
	if input.Raw != "" {
		raw = sql.NullString{String: input.Raw, Valid: true}
	}

	w := r.pool.Writer()
	insert := w.Rebind(`
		INSERT INTO agent_messages (id, agent_id, sequence_number, type, role, content, raw, metadata, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM agent_messages WHERE agent_id = ?), ?, ?, ?, ?, ?, ?)
	`)

	id := uuid.New().String()
	createdAt := time.Now().UTC()

	var lastErr error
	for attempt := 0; attempt < repository.MaxSequenceRetries; attempt++ {
		_, err := w.ExecContext(ctx, insert,
			id, input.AgentID, input.AgentID, input.Type, role, content, raw, metadataJSON, createdAt)
		if err == nil {
			return r.loadMessage(ctx, id)
		}
		if isForeignKeyViolation(err) {
			return nil, errors.AgentNotFound(input.AgentID)
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("appending message for agent %s: %w", input.AgentID, err)
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr,
		fmt.Sprintf("sequence allocation for agent %s kept colliding", input.AgentID))
}

// loadMessage reads back a persisted row through the writer so the
// allocated sequence number is visible immediately.
func (r *Repository) loadMessage(ctx context.Context, id string) (*domain.Message, error) {
	w := r.pool.Writer()
	query := w.Rebind(`SELECT ` + messageColumns + ` FROM agent_messages WHERE id = ?`)
	msg, err := scanMessage(w.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("loading message %s: %w", id, err)
	}
	return msg, nil
}

// ListByAgent returns the agent's messages in ascending sequence order.
func (r *Repository) ListByAgent(ctx context.Context, agentID string) ([]*domain.Message, error) {
	return r.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM agent_messages WHERE agent_id = ? ORDER BY sequence_number ASC`,
		agentID)
}

// ListSince returns messages with sequence number greater than sinceSeq,
// ascending. Reconnecting clients use this for gap-fill.
func (r *Repository) ListSince(ctx context.Context, agentID string, sinceSeq int64) ([]*domain.Message, error) {
	return r.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM agent_messages WHERE agent_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`,
		agentID, sinceSeq)
}

// CountByAgent returns the number of stored messages for the agent.
func (r *Repository) CountByAgent(ctx context.Context, agentID string) (int, error) {
	ro := r.pool.Reader()
	var count int
	err := ro.QueryRowContext(ctx,
		ro.Rebind(`SELECT COUNT(*) FROM agent_messages WHERE agent_id = ?`), agentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages for agent %s: %w", agentID, err)
	}
	return count, nil
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*domain.Message, error) {
	ro := r.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// scanMessage reconstructs a message row. Metadata that fails to parse
// yields nil metadata rather than an error.
func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		msg          domain.Message
		role         sql.NullString
		raw          sql.NullString
		metadataJSON sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.AgentID, &msg.SequenceNumber, &msg.Type,
		&role, &msg.Content, &raw, &metadataJSON, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Role = role.String
	msg.Raw = raw.String

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			msg.Metadata = nil
		}
	}
	return &msg, nil
}
