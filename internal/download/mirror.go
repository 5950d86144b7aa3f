package download

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/hbomb79/Iris/internal/database"
	"github.com/jmoiron/sqlx"
)

// TaskRow is the relational projection of a job record, one row per job in
// the download_tasks table.
type TaskRow struct {
	ID          int            `db:"id"`
	TaskID      string         `db:"task_id"`
	URL         string         `db:"url"`
	Status      string         `db:"status"`
	Progress    float64        `db:"progress"`
	Filename    sql.NullString `db:"filename"`
	DownloadURL sql.NullString `db:"download_url"`
	StorageType sql.NullString `db:"storage_type"`
	FileSize    sql.NullInt64  `db:"file_size"`
	ClientIP    sql.NullString `db:"client_ip"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// PersistentStore mirrors job records to PostgreSQL. It implements Mirror,
// and additionally exposes the relational queries that the in-memory store
// cannot serve (historic and client-scoped listings).
type PersistentStore struct {
	db database.Manager
}

func NewPersistentStore(db database.Manager) *PersistentStore {
	return &PersistentStore{db: db}
}

// SaveJob upserts the row for the given job snapshot, keyed by task_id. The
// upsert runs inside a transaction via the manager's WrapTx.
func (store *PersistentStore) SaveJob(_ context.Context, job Job) error {
	if store.db.GetSqlxDb() == nil {
		return fmt.Errorf("database manager has not connected")
	}

	return store.db.WrapTx(func(tx *sqlx.Tx) error {
		return upsertTask(tx, rowForJob(job))
	})
}

// rowForJob projects a job snapshot on to its relational row. Empty result
// fields become NULL columns rather than empty strings.
func rowForJob(job Job) TaskRow {
	return TaskRow{
		TaskID:      job.ID.String(),
		URL:         job.SourceURL,
		Status:      job.Status.String(),
		Progress:    job.Progress,
		Filename:    sql.NullString{String: job.ResultName, Valid: job.ResultName != ""},
		DownloadURL: sql.NullString{String: job.AccessURL, Valid: job.AccessURL != ""},
		StorageType: sql.NullString{String: string(job.StorageKind), Valid: job.StorageKind != ""},
		FileSize:    sql.NullInt64{Int64: job.ByteSize, Valid: job.ByteSize > 0},
		ClientIP:    sql.NullString{String: job.RequesterAddr, Valid: job.RequesterAddr != ""},
		Error:       sql.NullString{String: job.ErrorMessage, Valid: job.ErrorMessage != ""},
	}
}

// upsertTask writes the row through any Queryable so it can run inside or
// outside of a transaction.
func upsertTask(db database.Queryable, row TaskRow) error {
	_, err := db.NamedExec(`
		INSERT INTO download_tasks (task_id, url, status, progress, filename, download_url, storage_type, file_size, client_ip, error)
		VALUES (:task_id, :url, :status, :progress, :filename, :download_url, :storage_type, :file_size, :client_ip, :error)
		ON CONFLICT (task_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			filename = EXCLUDED.filename,
			download_url = EXCLUDED.download_url,
			storage_type = EXCLUDED.storage_type,
			file_size = EXCLUDED.file_size,
			error = EXCLUDED.error`, row)

	return err
}

// DeleteOlderThan removes terminal rows last updated before the cutoff,
// pairing with the in-memory retention sweep.
func (store *PersistentStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	queryable := store.db.GetSqlxDb()
	if queryable == nil {
		return 0, fmt.Errorf("database manager has not connected")
	}

	result, err := sq.Delete("download_tasks").
		Where(sq.Eq{"status": []string{Completed.String(), Failed.String()}}).
		Where(sq.Lt{"updated_at": cutoff}).
		PlaceholderFormat(sq.Dollar).
		RunWith(queryable.DB).
		Exec()
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (store *PersistentStore) GetByTaskID(db database.Queryable, taskID string) (*TaskRow, error) {
	query, args, err := sq.Select("*").
		From("download_tasks").
		Where(sq.Eq{"task_id": taskID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row TaskRow
	if err := db.Get(&row, query, args...); err != nil {
		return nil, err
	}

	return &row, nil
}

func (store *PersistentStore) ListRecent(db database.Queryable, limit int) ([]*TaskRow, error) {
	query, args, err := sq.Select("*").
		From("download_tasks").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows := make([]*TaskRow, 0)
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	return rows, nil
}

func (store *PersistentStore) ListByStatus(db database.Queryable, status JobStatus) ([]*TaskRow, error) {
	query, args, err := sq.Select("*").
		From("download_tasks").
		Where(sq.Eq{"status": status.String()}).
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows := make([]*TaskRow, 0)
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	return rows, nil
}

func (store *PersistentStore) ListByClientIP(db database.Queryable, clientIP string) ([]*TaskRow, error) {
	query, args, err := sq.Select("*").
		From("download_tasks").
		Where(sq.Eq{"client_ip": clientIP}).
		OrderBy("created_at DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows := make([]*TaskRow, 0)
	if err := db.Select(&rows, query, args...); err != nil {
		return nil, err
	}

	return rows, nil
}
