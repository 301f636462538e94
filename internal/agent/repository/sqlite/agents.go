package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/errors"
)

const agentColumns = `id, type, status, prompt, configuration, created_at, started_at, completed_at, error_name, error_message`

// Save upserts the agent. The row is updated in place on conflict so that
// message children are never cascaded away by a status transition.
func (r *Repository) Save(ctx context.Context, agent *domain.Agent) error {
	configJSON, err := json.Marshal(agent.Config)
	if err != nil {
		return errors.InternalError("serializing agent configuration", err)
	}

	var errorName, errorMessage sql.NullString
	if agent.Error != nil {
		errorName = sql.NullString{String: agent.Error.Name, Valid: true}
		errorMessage = sql.NullString{String: agent.Error.Message, Valid: true}
	}

	var startedAt, completedAt sql.NullTime
	if agent.StartedAt != nil {
		startedAt = sql.NullTime{Time: *agent.StartedAt, Valid: true}
	}
	if agent.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *agent.CompletedAt, Valid: true}
	}

	w := r.pool.Writer()
	query := w.Rebind(`
		INSERT INTO agents (id, type, status, prompt, configuration, created_at, started_at, completed_at, error_name, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			prompt = excluded.prompt,
			configuration = excluded.configuration,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error_name = excluded.error_name,
			error_message = excluded.error_message
	`)
	_, err = w.ExecContext(ctx, query,
		agent.ID, agent.Type, agent.Status, agent.Prompt, string(configJSON),
		agent.CreatedAt, startedAt, completedAt, errorName, errorMessage)
	if err != nil {
		return fmt.Errorf("saving agent %s: %w", agent.ID, err)
	}
	return nil
}

// FindByID loads one agent.
func (r *Repository) FindByID(ctx context.Context, id string) (*domain.Agent, error) {
	ro := r.pool.Reader()
	query := ro.Rebind(`SELECT ` + agentColumns + ` FROM agents WHERE id = ?`)

	agent, err := scanAgent(ro.QueryRowContext(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.AgentNotFound(id)
		}
		return nil, fmt.Errorf("loading agent %s: %w", id, err)
	}
	return agent, nil
}

// FindAll returns every agent, newest first.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Agent, error) {
	return r.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC`)
}

// FindByStatus returns agents in the given lifecycle state, newest first.
func (r *Repository) FindByStatus(ctx context.Context, status domain.AgentStatus) ([]*domain.Agent, error) {
	return r.queryAgents(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE status = ? ORDER BY created_at DESC`, status)
}

// FindByType returns agents of the given provider type, newest first.
func (r *Repository) FindByType(ctx context.Context, agentType domain.AgentType) ([]*domain.Agent, error) {
	return r.queryAgents(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE type = ? ORDER BY created_at DESC`, agentType)
}

// Delete removes the agent; messages cascade via the FK.
func (r *Repository) Delete(ctx context.Context, id string) error {
	w := r.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting agent %s: %w", id, err)
	}
	if affected == 0 {
		return errors.AgentNotFound(id)
	}
	return nil
}

// Exists reports whether an agent row is present.
func (r *Repository) Exists(ctx context.Context, id string) (bool, error) {
	ro := r.pool.Reader()
	var one int
	err := ro.QueryRowContext(ctx, ro.Rebind(`SELECT 1 FROM agents WHERE id = ?`), id).Scan(&one)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking agent %s: %w", id, err)
	}
	return true, nil
}

func (r *Repository) queryAgents(ctx context.Context, query string, args ...interface{}) ([]*domain.Agent, error) {
	ro := r.pool.Reader()
	rows, err := ro.QueryContext(ctx, ro.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		result = append(result, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAgent reconstructs an agent row. Reconstruction bypasses the
// transition validator: the stored status is trusted as-is.
func scanAgent(row rowScanner) (*domain.Agent, error) {
	var (
		agent        domain.Agent
		configJSON   string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		errorName    sql.NullString
		errorMessage sql.NullString
	)
	err := row.Scan(&agent.ID, &agent.Type, &agent.Status, &agent.Prompt, &configJSON,
		&agent.CreatedAt, &startedAt, &completedAt, &errorName, &errorMessage)
	if err != nil {
		return nil, err
	}

	if configJSON != "" && configJSON != "{}" {
		if err := json.Unmarshal([]byte(configJSON), &agent.Config); err != nil {
			return nil, fmt.Errorf("deserializing configuration for agent %s: %w", agent.ID, err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		agent.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		agent.CompletedAt = &t
	}
	if errorName.Valid || errorMessage.Valid {
		agent.Error = &domain.AgentError{Name: errorName.String, Message: errorMessage.String}
	}
	return &agent, nil
}
