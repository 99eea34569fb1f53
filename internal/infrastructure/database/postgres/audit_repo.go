package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/repositories"
	"github.com/devilmonastery/parley/internal/pkg/idgen"
)

const auditColumns = `id, user_id, action, resource_type, resource_id, ip_address, user_agent, metadata, success, error_message, timestamp`

// AuditRepository persists the login audit trail in audit_logs
type AuditRepository struct {
	db  *sqlx.DB
	log *slog.Logger
}

func NewAuditRepository(db *sqlx.DB) repositories.AuditRepository {
	return &AuditRepository{
		db:  db,
		log: slog.Default().With(slog.String("repo", "audit")),
	}
}

type auditLogRow struct {
	ID         string         `db:"id"`
	UserID     sql.NullString `db:"user_id"`
	Action     string         `db:"action"`
	Resource   string         `db:"resource_type"`
	ResourceID sql.NullString `db:"resource_id"`
	IPAddress  sql.NullString `db:"ip_address"`
	UserAgent  sql.NullString `db:"user_agent"`
	Metadata   string         `db:"metadata"`
	Success    bool           `db:"success"`
	ErrorMsg   sql.NullString `db:"error_message"`
	Timestamp  time.Time      `db:"timestamp"`
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func optional(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (r *auditLogRow) toEntity() (*entities.AuditLog, error) {
	entry := &entities.AuditLog{
		ID:         r.ID,
		UserID:     optional(r.UserID),
		Action:     entities.AuditAction(r.Action),
		Resource:   entities.AuditResource(r.Resource),
		ResourceID: optional(r.ResourceID),
		IPAddress:  optional(r.IPAddress),
		UserAgent:  optional(r.UserAgent),
		Success:    r.Success,
		ErrorMsg:   optional(r.ErrorMsg),
		CreatedAt:  r.Timestamp,
	}
	if err := entry.UnmarshalMetadataFromJSON(r.Metadata); err != nil {
		return nil, fmt.Errorf("audit log %s: bad metadata: %w", r.ID, err)
	}
	return entry, nil
}

func auditRow(entry *entities.AuditLog) (*auditLogRow, error) {
	metadata, err := entry.MarshalMetadataToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
	}
	return &auditLogRow{
		ID:         entry.ID,
		UserID:     nullable(entry.UserID),
		Action:     string(entry.Action),
		Resource:   string(entry.Resource),
		ResourceID: nullable(entry.ResourceID),
		IPAddress:  nullable(entry.IPAddress),
		UserAgent:  nullable(entry.UserAgent),
		Metadata:   metadata,
		Success:    entry.Success,
		ErrorMsg:   nullable(entry.ErrorMsg),
		Timestamp:  entry.CreatedAt,
	}, nil
}

func (r *AuditRepository) Create(ctx context.Context, entry *entities.AuditLog) (err error) {
	done := observe("audit", "create")
	defer func() { done(1, err) }()

	if entry.ID == "" {
		entry.ID = idgen.GenerateID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	row, err := auditRow(entry)
	if err != nil {
		return err
	}

	r.log.Debug("recording audit entry",
		slog.String("action", string(entry.Action)),
		slog.Any("user_id", entry.UserID),
		slog.Bool("success", entry.Success))

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES (:id, :user_id, :action, :resource_type, :resource_id, :ip_address, :user_agent, :metadata, :success, :error_message, :timestamp)`,
		row)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func auditWhere(opts repositories.ListAuditLogsOptions) *where {
	w := &where{}
	if opts.UserID != nil {
		w.add("user_id = $%d", *opts.UserID)
	}
	if opts.Action != nil {
		w.add("action = $%d", string(*opts.Action))
	}
	if opts.Provider != "" {
		w.add("metadata->>'"+entities.MetaProvider+"' = $%d", opts.Provider)
	}
	if opts.FailedOnly {
		w.raw("success = false")
	}
	return w
}

func (r *AuditRepository) List(ctx context.Context, opts repositories.ListAuditLogsOptions) (logs []*entities.AuditLog, total int64, err error) {
	done := observe("audit", "list")
	defer func() { done(int64(len(logs)), err) }()

	w := auditWhere(opts)
	if err = r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_logs "+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	limit, args := w.page(opts.Limit, opts.Offset)
	query := "SELECT " + auditColumns + " FROM audit_logs " + w.String() + " ORDER BY timestamp DESC " + limit

	var rows []auditLogRow
	if err = r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	logs = make([]*entities.AuditLog, 0, len(rows))
	for i := range rows {
		entry, convErr := rows[i].toEntity()
		if convErr != nil {
			err = convErr
			return nil, 0, err
		}
		logs = append(logs, entry)
	}
	return logs, total, nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, opts repositories.ListAuditLogsOptions) ([]*entities.AuditLog, int64, error) {
	opts.UserID = &userID
	return r.List(ctx, opts)
}
