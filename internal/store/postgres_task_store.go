package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jlmorenorodriguez/imagetask-api/internal/domain"
	_ "github.com/lib/pq"
)

const taskSchemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	price NUMERIC(10,2) NOT NULL,
	original_path TEXT NOT NULL,
	images JSONB NOT NULL DEFAULT '[]',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresTaskStore struct {
	db *sql.DB
}

func NewPostgresTaskStore(ctx context.Context, dsn string) (*PostgresTaskStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresTaskStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresTaskStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, taskSchemaSQL); err != nil {
		return fmt.Errorf("ensure tasks schema: %w", err)
	}
	return nil
}

func (s *PostgresTaskStore) Close() error {
	return s.db.Close()
}

func (s *PostgresTaskStore) Create(ctx context.Context, task domain.Task) error {
	imagesJSON, err := marshalVariants(task.Images)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO tasks (id, status, price, original_path, images, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID,
		string(task.Status),
		task.Price,
		task.OriginalPath,
		imagesJSON,
		task.ErrorMessage,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

func (s *PostgresTaskStore) Get(ctx context.Context, id string) (domain.Task, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, price, original_path, images, error_message, created_at, updated_at
		 FROM tasks
		 WHERE id = $1`,
		id,
	)

	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Task{}, false, nil
		}
		return domain.Task{}, false, err
	}
	return task, true, nil
}

func (s *PostgresTaskStore) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, images []domain.ImageVariant, errorMessage string) (domain.Task, error) {
	if status != domain.TaskStatusCompleted {
		images = nil
	}
	if status != domain.TaskStatusFailed {
		errorMessage = ""
	}

	imagesJSON, err := marshalVariants(images)
	if err != nil {
		return domain.Task{}, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE tasks
		 SET status = $1, images = $2, error_message = $3, updated_at = $4
		 WHERE id = $5`,
		string(status),
		imagesJSON,
		errorMessage,
		now,
		id,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return domain.Task{}, ErrTaskNotFound
	}

	task, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *PostgresTaskStore) List(ctx context.Context, sortByCreatedDesc bool) ([]domain.Task, error) {
	order := "ASC"
	if sortByCreatedDesc {
		order = "DESC"
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, status, price, original_path, images, error_message, created_at, updated_at
		 FROM tasks
		 ORDER BY created_at `+order,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		task       domain.Task
		status     string
		imagesJSON []byte
	)
	if err := row.Scan(
		&task.ID,
		&status,
		&task.Price,
		&task.OriginalPath,
		&imagesJSON,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Task{}, err
		}
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}

	task.Status = domain.TaskStatus(status)
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &task.Images); err != nil {
			return domain.Task{}, fmt.Errorf("unmarshal task images: %w", err)
		}
	}
	if len(task.Images) == 0 {
		task.Images = nil
	}
	return task, nil
}

func marshalVariants(images []domain.ImageVariant) ([]byte, error) {
	if images == nil {
		images = []domain.ImageVariant{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("marshal task images: %w", err)
	}
	return data, nil
}
