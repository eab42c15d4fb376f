package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
)

// Channel is the LISTEN/NOTIFY channel announcing committed writes.
const Channel = "teamboard_comments"

const selectColumns = `id, parent_id, title, content, author, author_id, category, tags, pinned, created_at`

type Repo struct {
	db  *sql.DB
	dsn string
	log *zap.Logger

	notifier *storage.Notifier

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Open connects, migrates and starts the LISTEN loop.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := Migrate(db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	r := New(db, dsn, log)
	r.Listen()
	return r, nil
}

func New(db *sql.DB, dsn string, log *zap.Logger) *Repo {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Repo{
		db:  db,
		dsn: dsn,
		log: log.With(zap.String("store", "postgres")),
	}
	r.notifier = storage.NewNotifier(r.ListAll, r.log)
	return r
}

// Listen starts a dedicated connection waiting for change notifications. It reconnects until Close.
func (r *Repo) Listen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.listen(ctx)
}

func (r *Repo) listen(ctx context.Context) {
	defer close(r.done)

	backoff := 500 * time.Millisecond
	for ctx.Err() == nil {
		err := r.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("Listen connection lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (r *Repo) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}

	// writes may have landed while we were disconnected
	r.notifier.Refresh(ctx)

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		r.notifier.Refresh(ctx)
	}
}

func (r *Repo) ListAll(ctx context.Context) ([]model.Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM comments
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, &storage.ReadError{Op: "list comments", Err: err}
	}
	defer rows.Close()

	out, err := scanComments(rows)
	if err != nil {
		return nil, &storage.ReadError{Op: "list comments", Err: err}
	}
	return out, nil
}

func (r *Repo) ListByCategory(ctx context.Context, category model.Category) ([]model.Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM comments
		WHERE parent_id = '' AND category = $1
		ORDER BY created_at DESC, id
	`, string(category))
	if err != nil {
		return nil, &storage.ReadError{Op: "list by category", Err: err}
	}
	defer rows.Close()

	out, err := scanComments(rows)
	if err != nil {
		return nil, &storage.ReadError{Op: "list by category", Err: err}
	}
	return out, nil
}

func (r *Repo) Add(ctx context.Context, d model.Draft) (model.Comment, error) {
	d, err := model.Normalize(d)
	if err != nil {
		return model.Comment{}, err
	}

	tags, err := json.Marshal(d.Tags)
	if err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add comment", Err: err}
	}

	var c model.Comment
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO comments(parent_id, title, content, author, author_id, category, tags, pinned)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+selectColumns,
			d.ParentID, d.Title, d.Content, d.Author, d.AuthorID, string(d.Category), string(tags), d.Pinned)
		var err error
		if c, err = scanComment(row); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, "add")
		return err
	})
	if err != nil {
		return model.Comment{}, &storage.WriteError{Op: "add comment", Err: err}
	}
	return c, nil
}

func (r *Repo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ANY($1)`, ids)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, "delete")
		return err
	})
	if err != nil {
		return &storage.WriteError{Op: "delete comments", Err: err}
	}
	return nil
}

// Subscribe delivers the current collection right away and then after every committed write.
func (r *Repo) Subscribe(fn func(storage.Snapshot)) (storage.Unsubscribe, error) {
	unsub := r.notifier.Subscribe(fn)
	go r.notifier.Refresh(context.Background())
	return unsub, nil
}

func (r *Repo) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return r.db.Close()
}

func (r *Repo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanComment(row rowScanner) (model.Comment, error) {
	var (
		c        model.Comment
		category string
		tags     []byte
	)
	if err := row.Scan(&c.ID, &c.ParentID, &c.Title, &c.Content, &c.Author, &c.AuthorID,
		&category, &tags, &c.Pinned, &c.Timestamp); err != nil {
		return model.Comment{}, err
	}
	c.Category = model.Category(category)
	if err := json.Unmarshal(tags, &c.Tags); err != nil {
		return model.Comment{}, fmt.Errorf("decode tags of %s: %w", c.ID, err)
	}
	c.Timestamp = c.Timestamp.UTC()
	return c, nil
}

func scanComments(rows *sql.Rows) ([]model.Comment, error) {
	out := make([]model.Comment, 0, 16)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
