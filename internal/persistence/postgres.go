package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
)

// PostgresConfig holds connection settings for the PostgreSQL store
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// PostgresStore persists audit chains in PostgreSQL. Appends lock the
// chain tail row FOR UPDATE, so concurrent writers to one chain
// serialize and stale linkage surfaces as ErrChainConflict.
type PostgresStore struct {
	db  *sql.DB
	log logger.Logger
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audit_records (
		id               TEXT        NOT NULL,
		organization_id  TEXT        NOT NULL,
		chain_key        TEXT        NOT NULL,
		sequence_number  BIGINT      NOT NULL,
		previous_hash    TEXT        NOT NULL,
		checksum         TEXT        NOT NULL,
		occurred_at      TIMESTAMPTZ NOT NULL,
		recorded_at      TIMESTAMPTZ NOT NULL,
		actor            TEXT        NOT NULL DEFAULT '',
		action           TEXT        NOT NULL,
		category         TEXT        NOT NULL,
		severity         TEXT        NOT NULL,
		resource_type    TEXT        NOT NULL DEFAULT '',
		resource_id      TEXT        NOT NULL DEFAULT '',
		resource_name    TEXT        NOT NULL DEFAULT '',
		description      TEXT        NOT NULL,
		before_state     JSONB,
		after_state      JSONB,
		context          JSONB,
		compliance_flags JSONB       NOT NULL DEFAULT '[]',
		risk_score       INT         NOT NULL,
		archived         BOOLEAN     NOT NULL DEFAULT FALSE,
		PRIMARY KEY (organization_id, chain_key, sequence_number),
		UNIQUE (organization_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_chain_tails (
		organization_id TEXT        NOT NULL,
		chain_key       TEXT        NOT NULL,
		sequence_number BIGINT      NOT NULL,
		checksum        TEXT        NOT NULL,
		recorded_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (organization_id, chain_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_occurred
		ON audit_records (organization_id, occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_category
		ON audit_records (organization_id, category, severity)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_risk
		ON audit_records (organization_id, risk_score)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_records_flags
		ON audit_records USING GIN (compliance_flags)`,
}

const recordColumns = `id, organization_id, chain_key, sequence_number, previous_hash, checksum,
	occurred_at, recorded_at, actor, action, category, severity,
	resource_type, resource_id, resource_name, description,
	before_state, after_state, context, compliance_flags, risk_score, archived`

// NewPostgresStore connects to PostgreSQL and ensures the audit schema
// exists
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, log logger.Logger) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres url is required")
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db, log: log}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("PostgreSQL audit store initialized",
		logger.Int("max_open_conns", cfg.MaxOpenConns),
		logger.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure audit schema: %w", err)
		}
	}
	return nil
}

// Append inserts the record under a tail row lock. Concurrent appends
// to the same chain either wait on the lock and fail the linkage check
// or trip the primary key, and both cases map to ErrChainConflict.
func (p *PostgresStore) Append(ctx context.Context, record *audit.Record) error {
	beforeState, err := marshalJSONB(record.BeforeState)
	if err != nil {
		return fmt.Errorf("encode before state: %w", err)
	}
	afterState, err := marshalJSONB(record.AfterState)
	if err != nil {
		return fmt.Errorf("encode after state: %w", err)
	}
	contextData, err := marshalJSONB(record.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	flags, err := marshalFlags(record.ComplianceFlags)
	if err != nil {
		return fmt.Errorf("encode compliance flags: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tailSeq int64
	tailSum := audit.GenesisHash
	err = tx.QueryRowContext(ctx,
		`SELECT sequence_number, checksum FROM audit_chain_tails
		 WHERE organization_id = $1 AND chain_key = $2
		 FOR UPDATE`,
		record.OrganizationID, record.ChainKey,
	).Scan(&tailSeq, &tailSum)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read chain tail: %w", err)
	}

	if record.SequenceNumber != uint64(tailSeq)+1 || record.PreviousHash != tailSum {
		return audit.ErrChainConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_records (
			id, organization_id, chain_key, sequence_number, previous_hash, checksum,
			occurred_at, recorded_at, actor, action, category, severity,
			resource_type, resource_id, resource_name, description,
			before_state, after_state, context, compliance_flags, risk_score, archived
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		record.ID, record.OrganizationID, record.ChainKey, int64(record.SequenceNumber),
		record.PreviousHash, record.Checksum,
		record.OccurredAt, record.RecordedAt,
		record.Actor, string(record.Action), string(record.Category), string(record.Severity),
		record.ResourceType, record.ResourceID, record.ResourceName, record.Description,
		beforeState, afterState, contextData, flags, record.RiskScore, record.Archived,
	)
	if err != nil {
		// Two first appends race without a tail row to lock; the
		// loser hits the primary key instead.
		if isUniqueViolation(err) {
			return audit.ErrChainConflict
		}
		return fmt.Errorf("insert record: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_chain_tails (organization_id, chain_key, sequence_number, checksum, recorded_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (organization_id, chain_key) DO UPDATE SET
			sequence_number = EXCLUDED.sequence_number,
			checksum = EXCLUDED.checksum,
			recorded_at = EXCLUDED.recorded_at`,
		record.OrganizationID, record.ChainKey, int64(record.SequenceNumber),
		record.Checksum, record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("update chain tail: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return audit.ErrChainConflict
		}
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Tail returns the last record of a chain, or nil for an empty chain
func (p *PostgresStore) Tail(ctx context.Context, orgID, chainKey string) (*audit.Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE organization_id = $1 AND chain_key = $2
		 ORDER BY sequence_number DESC LIMIT 1`,
		orgID, chainKey)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read chain tail: %w", err)
	}
	return record, nil
}

// Get returns a record by id within an organization
func (p *PostgresStore) Get(ctx context.Context, orgID, id string) (*audit.Record, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE organization_id = $1 AND id = $2`,
		orgID, id)

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &audit.NotFoundError{Type: "record", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return record, nil
}

// Range streams a chain's records in ascending sequence order
func (p *PostgresStore) Range(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64, fn func(*audit.Record) error) error {
	query := `SELECT ` + recordColumns + ` FROM audit_records
		 WHERE organization_id = $1 AND chain_key = $2 AND sequence_number >= $3`
	args := []any{orgID, chainKey, int64(fromSeq)}
	if toSeq > 0 {
		query += ` AND sequence_number <= $4`
		args = append(args, int64(toSeq))
	}
	query += ` ORDER BY sequence_number ASC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("range records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Query translates the search predicates to SQL. The in-memory stores
// evaluate the same semantics through the shared matcher.
func (p *PostgresStore) Query(ctx context.Context, q *audit.Query) (*audit.Page, error) {
	where, order, args, err := buildSearchQuery(q)
	if err != nil {
		return nil, err
	}

	var total int64
	countArgs := args[:len(args):len(args)]
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_records WHERE `+where, countArgs...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM audit_records WHERE %s ORDER BY %s OFFSET $%d LIMIT $%d`,
		recordColumns, where, order, len(args)+1, len(args)+2)
	args = append(args, q.Offset, q.Limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []*audit.Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &audit.Page{
		Records: records,
		Total:   total,
		HasMore: int64(q.Offset+q.Limit) < total,
	}, nil
}

// Chains lists the organization's chain keys in lexical order
func (p *PostgresStore) Chains(ctx context.Context, orgID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT chain_key FROM audit_chain_tails
		 WHERE organization_id = $1 ORDER BY chain_key`,
		orgID)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Organizations lists every organization holding records in lexical
// order
func (p *PostgresStore) Organizations(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT organization_id FROM audit_chain_tails ORDER BY organization_id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	orgs := []string{}
	for rows.Next() {
		var orgID string
		if err := rows.Scan(&orgID); err != nil {
			return nil, err
		}
		orgs = append(orgs, orgID)
	}
	return orgs, rows.Err()
}

// MarkArchived flips the archived flag on a sequence range
func (p *PostgresStore) MarkArchived(ctx context.Context, orgID, chainKey string, fromSeq, toSeq uint64) (int64, error) {
	result, err := p.db.ExecContext(ctx,
		`UPDATE audit_records SET archived = TRUE
		 WHERE organization_id = $1 AND chain_key = $2
		   AND sequence_number BETWEEN $3 AND $4
		   AND NOT archived`,
		orgID, chainKey, int64(fromSeq), int64(toSeq))
	if err != nil {
		return 0, fmt.Errorf("mark archived: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// buildSearchQuery renders the query predicates as a numbered-argument
// WHERE clause plus an ORDER BY expression
func buildSearchQuery(q *audit.Query) (string, string, []any, error) {
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conds := []string{"organization_id = " + arg(q.OrganizationID)}
	if !q.IncludeArchived {
		conds = append(conds, "NOT archived")
	}
	if q.ChainKey != "" {
		conds = append(conds, "chain_key = "+arg(q.ChainKey))
	}

	inList := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		refs := make([]string, len(values))
		for i, v := range values {
			refs[i] = arg(v)
		}
		conds = append(conds, column+" IN ("+strings.Join(refs, ", ")+")")
	}
	inList("actor", q.Actors)
	inList("action", actionStrings(q.Actions))
	inList("category", categoryStrings(q.Categories))
	inList("severity", severityStrings(q.Severities))
	inList("resource_type", q.ResourceTypes)
	inList("resource_id", q.ResourceIDs)

	if !q.OccurredFrom.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(q.OccurredFrom))
	}
	if !q.OccurredTo.IsZero() {
		conds = append(conds, "occurred_at <= "+arg(q.OccurredTo))
	}
	if q.RiskMin != nil {
		conds = append(conds, "risk_score >= "+arg(*q.RiskMin))
	}
	if q.RiskMax != nil {
		conds = append(conds, "risk_score <= "+arg(*q.RiskMax))
	}

	if len(q.FlagsAny) > 0 {
		ors := make([]string, len(q.FlagsAny))
		for i, flag := range q.FlagsAny {
			data, err := json.Marshal([]string{flag})
			if err != nil {
				return "", "", nil, err
			}
			ors[i] = "compliance_flags @> " + arg(string(data)) + "::jsonb"
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}
	for _, flag := range q.FlagsAll {
		data, err := json.Marshal([]string{flag})
		if err != nil {
			return "", "", nil, err
		}
		conds = append(conds, "compliance_flags @> "+arg(string(data))+"::jsonb")
	}

	terms := audit.SearchTerms(q.Text)
	termRefs := make([]string, 0, len(terms))
	for _, term := range terms {
		ref := arg("%" + escapeLike(term) + "%")
		termRefs = append(termRefs, ref)
		conds = append(conds, "(description ILIKE "+ref+" OR resource_name ILIKE "+ref+")")
	}

	direction := "DESC"
	if q.Order == audit.OrderAsc {
		direction = "ASC"
	}

	var order string
	switch q.Sort {
	case audit.SortResourceName:
		order = "LOWER(resource_name) " + direction + ", occurred_at DESC, id ASC"
	case audit.SortRelevance:
		if len(termRefs) == 0 {
			order = "occurred_at DESC, id ASC"
			break
		}
		scores := make([]string, len(termRefs))
		for i, ref := range termRefs {
			scores[i] = "(CASE WHEN resource_name ILIKE " + ref + " THEN 2 ELSE 0 END" +
				" + CASE WHEN description ILIKE " + ref + " THEN 1 ELSE 0 END)"
		}
		order = "(" + strings.Join(scores, " + ") + ") DESC, occurred_at DESC, id ASC"
	default:
		order = "occurred_at " + direction + ", id ASC"
	}

	return strings.Join(conds, " AND "), order, args, nil
}

func actionStrings(values []audit.Action) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func categoryStrings(values []audit.Category) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func severityStrings(values []audit.Severity) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*audit.Record, error) {
	var (
		record      audit.Record
		seq         int64
		beforeState []byte
		afterState  []byte
		contextData []byte
		flags       []byte
	)
	err := row.Scan(
		&record.ID, &record.OrganizationID, &record.ChainKey, &seq,
		&record.PreviousHash, &record.Checksum,
		&record.OccurredAt, &record.RecordedAt,
		&record.Actor, &record.Action, &record.Category, &record.Severity,
		&record.ResourceType, &record.ResourceID, &record.ResourceName, &record.Description,
		&beforeState, &afterState, &contextData, &flags,
		&record.RiskScore, &record.Archived,
	)
	if err != nil {
		return nil, err
	}

	record.SequenceNumber = uint64(seq)
	record.OccurredAt = record.OccurredAt.UTC()
	record.RecordedAt = record.RecordedAt.UTC()

	if len(beforeState) > 0 {
		if err := json.Unmarshal(beforeState, &record.BeforeState); err != nil {
			return nil, fmt.Errorf("decode before state: %w", err)
		}
	}
	if len(afterState) > 0 {
		if err := json.Unmarshal(afterState, &record.AfterState); err != nil {
			return nil, fmt.Errorf("decode after state: %w", err)
		}
	}
	if len(contextData) > 0 {
		if err := json.Unmarshal(contextData, &record.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &record.ComplianceFlags); err != nil {
			return nil, fmt.Errorf("decode compliance flags: %w", err)
		}
	}
	if len(record.ComplianceFlags) == 0 {
		record.ComplianceFlags = nil
	}
	return &record, nil
}

func marshalJSONB(v any) (any, error) {
	switch m := v.(type) {
	case map[string]any:
		if m == nil {
			return nil, nil
		}
	case map[string]string:
		if m == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func marshalFlags(flags []string) ([]byte, error) {
	if len(flags) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(flags)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
