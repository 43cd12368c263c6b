package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/storage"
)

// DBInterface is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx, so the
// same store type can serve both connection- and transaction-scoped calls.
type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// PostgresStore implements storage.JobStore on PostgreSQL.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection, for tests.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Begin() (storage.JobStore, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func (s *PostgresStore) SaveWorkflow(w models.Workflow) error {
	_, err := s.db.Exec(
		"INSERT INTO workflows (id, name, status, definition, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)",
		w.ID, w.Name, w.Status, w.Definition, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(id string) (models.Workflow, error) {
	var wf models.Workflow
	err := s.db.Get(&wf, "SELECT * FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, err
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflows() ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	err := s.db.Select(&workflows, "SELECT * FROM workflows ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

func (s *PostgresStore) UpdateWorkflowStatus(id string, status models.WorkflowStatus) error {
	res, err := s.db.Exec("UPDATE workflows SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// jobRow mirrors the jobs table; parameters/results are JSONB columns.
type jobRow struct {
	models.QueuedJob
	ParametersJSON []byte `db:"parameters"`
	ResultsJSON    []byte `db:"results"`
}

func (s *PostgresStore) CreateJob(j models.QueuedJob) error {
	rawParams, err := json.Marshal(j.Parameters)
	if err != nil {
		return fmt.Errorf("encode job parameters: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO jobs (id, workflow_id, node_id, name, template, parameters, priority, status, runner_type, cluster, handle, error_msg, enqueued_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID, j.WorkflowID, j.NodeID, j.Name, j.Template, rawParams, j.Priority, j.Status,
		j.RunnerType, j.Cluster, j.Handle, j.ErrorMsg, j.EnqueuedAt, j.StartedAt, j.FinishedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	for _, dep := range j.Dependencies {
		if _, err := s.db.Exec("INSERT INTO job_dependencies (job_id, depends_on) VALUES ($1, $2)", j.ID, dep); err != nil {
			return fmt.Errorf("create job dependency: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetJob(id string) (models.QueuedJob, error) {
	var row jobRow
	err := s.db.Get(&row, "SELECT * FROM jobs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.QueuedJob{}, storage.ErrNotFound
	}
	if err != nil {
		return models.QueuedJob{}, err
	}
	return s.hydrate(row)
}

func (s *PostgresStore) ListJobs(workflowID string) ([]models.QueuedJob, error) {
	var rows []jobRow
	err := s.db.Select(&rows, "SELECT * FROM jobs WHERE workflow_id = $1 ORDER BY enqueued_at", workflowID)
	if err != nil {
		return nil, err
	}
	out := make([]models.QueuedJob, 0, len(rows))
	for _, row := range rows {
		j, err := s.hydrate(row)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (s *PostgresStore) hydrate(row jobRow) (models.QueuedJob, error) {
	j := row.QueuedJob
	if len(row.ParametersJSON) > 0 {
		if err := json.Unmarshal(row.ParametersJSON, &j.Parameters); err != nil {
			return models.QueuedJob{}, fmt.Errorf("decode job parameters: %w", err)
		}
	}
	var deps []string
	if err := s.db.Select(&deps, "SELECT depends_on FROM job_dependencies WHERE job_id = $1 ORDER BY depends_on", j.ID); err != nil {
		return models.QueuedJob{}, fmt.Errorf("load job dependencies: %w", err)
	}
	j.Dependencies = deps
	return j, nil
}

// GetJobStatusesBatch resolves every id in a single round trip. Missing ids
// are simply absent from the result map.
func (s *PostgresStore) GetJobStatusesBatch(ids []string) (map[string]models.JobStatus, error) {
	out := make(map[string]models.JobStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In("SELECT id, status FROM jobs WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("build batch status query: %w", err)
	}
	var rows []struct {
		ID     string           `db:"id"`
		Status models.JobStatus `db:"status"`
	}
	if err := s.db.Select(&rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("batch status query: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.Status
	}
	return out, nil
}

func (s *PostgresStore) UpdateJobStatus(id string, status models.JobStatus, errorMsg string) error {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = $1,
		    error_msg = $2,
		    started_at = CASE WHEN $1 = 'RUNNING' AND started_at IS NULL THEN CURRENT_TIMESTAMP ELSE started_at END,
		    finished_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN CURRENT_TIMESTAMP ELSE finished_at END
		WHERE id = $3`,
		status, errorMsg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateJobHandle(id, handle string) error {
	res, err := s.db.Exec("UPDATE jobs SET handle = $1 WHERE id = $2", handle, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateJobResults(id string, results map[string]string) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode job results: %w", err)
	}
	res, err := s.db.Exec("UPDATE jobs SET results = $1 WHERE id = $2", raw, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJobResults(id string) (map[string]string, error) {
	var raw []byte
	err := s.db.Get(&raw, "SELECT results FROM jobs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var results map[string]string
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("decode job results: %w", err)
	}
	return results, nil
}
