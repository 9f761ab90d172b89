package record

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/internal/pipeline"

	"github.com/go-sql-driver/mysql"
)

// MySQLOptions 控制 MySQL 连接池参数。
type MySQLOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (o *MySQLOptions) applyDefaults() {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 20
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 10
	}
	if o.ConnMaxLifetime <= 0 {
		o.ConnMaxLifetime = 10 * time.Minute
	}
}

// MySQLStore 使用 MySQL 持久化执行记录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQLStore 并初始化表结构。
func NewMySQLStore(dsn string, opts MySQLOptions) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	opts.applyDefaults()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Create 插入新的执行记录。
func (s *MySQLStore) Create(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行记录不能为空")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行记录 ID 不能为空")
	}

	now := time.Now().Unix()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	const stmt = `INSERT INTO execution_records
        (id, strategy_id, network, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		rec.ID,
		rec.StrategyID,
		rec.Network,
		rec.Status,
		rec.Attempts,
		rec.MaxRetries,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRecordConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入执行记录失败")
	}
	return nil
}

// Get 查询指定执行记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	const stmt = `SELECT id, strategy_id, network, status, attempts, max_retries, last_error, error_code, outcome, created_at, updated_at
        FROM execution_records WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Claim 将记录标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*ExecutionRecord, error) {
	const updateStmt = `UPDATE execution_records SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新执行记录状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		rec, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch rec.Status {
		case StatusSucceeded:
			return rec, ErrRecordCompleted
		case StatusRunning:
			return rec, ErrRecordConflict
		default:
			if rec.Attempts >= rec.MaxRetries {
				return rec, ErrRecordExhausted
			}
			return rec, ErrRecordConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 将执行标记为成功并保存结果。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, outcome *pipeline.Outcome) error {
	outcomeValue, err := marshalOutcome(outcome)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码执行结果失败")
	}

	const stmt = `UPDATE execution_records SET status = ?, outcome = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt, StatusSucceeded, outcomeValue, now, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记执行成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkFailed 将执行标记为失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error {
	const stmt = `UPDATE execution_records SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt, StatusFailed, lastError, string(code), now, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记执行失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List 返回最近的执行记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*ExecutionRecord, error) {
	opts.applyDefaults()

	query := `SELECT id, strategy_id, network, status, attempts, max_retries, last_error, error_code, outcome, created_at, updated_at
        FROM execution_records`

	args := make([]any, 0, len(opts.Statuses)+2)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		query += fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询执行记录列表失败")
	}
	defer rows.Close()

	records := make([]*ExecutionRecord, 0, opts.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历执行记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanRecord(scan func(dest ...any) error) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var lastError sql.NullString
	var outcome sql.NullString

	if err := scan(
		&rec.ID,
		&rec.StrategyID,
		&rec.Network,
		&rec.Status,
		&rec.Attempts,
		&rec.MaxRetries,
		&lastError,
		&rec.ErrorCode,
		&outcome,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行记录失败")
	}
	rec.LastError = lastError.String

	decoded, err := unmarshalOutcome(outcome)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析执行结果失败")
	}
	rec.Outcome = decoded
	return &rec, nil
}

func marshalOutcome(outcome *pipeline.Outcome) (sql.NullString, error) {
	if outcome == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalOutcome(raw sql.NullString) (*pipeline.Outcome, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var outcome pipeline.Outcome
	if err := json.Unmarshal([]byte(raw.String), &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

var _ Store = (*MySQLStore)(nil)
