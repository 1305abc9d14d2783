package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"reliability-gate/internal/domain"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLIdempotencyStore implementa a interface domain.IdempotencyStore
// sobre um banco relacional (postgres, mysql ou sqlite)
type SQLIdempotencyStore struct {
	db      *sql.DB
	dialect string
	logger  domain.Logger
}

// createRecordsSchemaSQL cria a tabela de registros com a chave composta única
const createRecordsSchemaSQL = `
CREATE TABLE IF NOT EXISTS idempotency_records (
    idempotency_key VARCHAR(255) NOT NULL,
    method VARCHAR(16) NOT NULL,
    path VARCHAR(512) NOT NULL,
    response_status INTEGER NOT NULL,
    response_body TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (idempotency_key, method, path)
)`

const createRecordsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_idempotency_created_at ON idempotency_records(created_at)`

// NewSQLIdempotencyStore abre a conexão, normaliza o dialeto e garante o schema
func NewSQLIdempotencyStore(dialect, dsn string, logger domain.Logger) (*SQLIdempotencyStore, error) {
	dialect = strings.ToLower(strings.TrimSpace(dialect))

	var driverName string
	switch dialect {
	case "postgres":
		driverName = "postgres"
	case "mysql":
		driverName = "mysql"
	case "sqlite", "sqlite3":
		dialect = "sqlite"
		driverName = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLIdempotencyStore{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}

	if err := store.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	if logger != nil {
		logger.Info("SQL idempotency store initialized", map[string]interface{}{
			"dialect": dialect,
		})
	}

	return store, nil
}

// NewSQLIdempotencyStoreWithDB cria o store sobre uma conexão existente (testes)
func NewSQLIdempotencyStoreWithDB(db *sql.DB, dialect string, logger domain.Logger) (*SQLIdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if dialect == "sqlite3" {
		dialect = "sqlite"
	}

	store := &SQLIdempotencyStore{db: db, dialect: dialect, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return store, nil
}

// ensureSchema cria a tabela e o índice se não existirem
func (s *SQLIdempotencyStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createRecordsSchemaSQL); err != nil {
		return err
	}
	// MySQL não aceita IF NOT EXISTS em índices; o índice duplicado só gera erro, o schema já existe
	if s.dialect != "mysql" {
		if _, err := s.db.ExecContext(ctx, createRecordsIndexSQL); err != nil {
			return err
		}
	}
	return nil
}

// Upsert grava o registro; em conflito na chave composta o último gravador vence
func (s *SQLIdempotencyStore) Upsert(ctx context.Context, record *domain.IdempotencyRecord) error {
	start := time.Now()

	var query string
	switch s.dialect {
	case "mysql":
		query = `
			INSERT INTO idempotency_records (idempotency_key, method, path, response_status, response_body, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				response_status = VALUES(response_status),
				response_body = VALUES(response_body),
				created_at = VALUES(created_at)`
	default:
		// postgres e sqlite compartilham a sintaxe ON CONFLICT
		query = `
			INSERT INTO idempotency_records (idempotency_key, method, path, response_status, response_body, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (idempotency_key, method, path) DO UPDATE SET
				response_status = excluded.response_status,
				response_body = excluded.response_body,
				created_at = excluded.created_at`
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		record.Key, record.Method, record.Path,
		record.ResponseStatus, string(record.ResponseBody), record.CreatedAt.UTC())
	if err != nil {
		s.logStorageOperation("UPSERT", record.Key, false, time.Since(start).Seconds()*1000, err)
		return storeError("UPSERT", record.Key, err)
	}

	s.logStorageOperation("UPSERT", record.Key, true, time.Since(start).Seconds()*1000, nil)
	return nil
}

// Find busca um registro criado a partir de since; nil quando não há registro elegível
func (s *SQLIdempotencyStore) Find(ctx context.Context, key, method, path string, since time.Time) (*domain.IdempotencyRecord, error) {
	start := time.Now()

	query := s.rebind(`
		SELECT idempotency_key, method, path, response_status, response_body, created_at
		FROM idempotency_records
		WHERE idempotency_key = ? AND method = ? AND path = ? AND created_at > ?`)

	row := s.db.QueryRowContext(ctx, query, key, method, path, since.UTC())

	var record domain.IdempotencyRecord
	var body string
	err := row.Scan(&record.Key, &record.Method, &record.Path,
		&record.ResponseStatus, &body, &record.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			s.logStorageOperation("FIND", key, true, time.Since(start).Seconds()*1000, nil)
			return nil, nil
		}
		s.logStorageOperation("FIND", key, false, time.Since(start).Seconds()*1000, err)
		return nil, storeError("FIND", key, err)
	}
	record.ResponseBody = []byte(body)

	s.logStorageOperation("FIND", key, true, time.Since(start).Seconds()*1000, nil)
	return &record, nil
}

// PurgeOlderThan remove registros criados antes de cutoff e retorna a contagem
func (s *SQLIdempotencyStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()

	query := s.rebind(`DELETE FROM idempotency_records WHERE created_at < ?`)

	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		s.logStorageOperation("PURGE", "expired", false, time.Since(start).Seconds()*1000, err)
		return 0, storeError("PURGE", "expired", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		// Driver sem suporte a RowsAffected; o purge aconteceu mesmo assim
		count = 0
	}

	s.logStorageOperation("PURGE", "expired", true, time.Since(start).Seconds()*1000, nil)
	return count, nil
}

// Health verifica se o store está saudável
func (s *SQLIdempotencyStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeError("HEALTH", "ping", err)
	}
	return nil
}

// Close fecha a conexão com o banco
func (s *SQLIdempotencyStore) Close() error {
	if err := s.db.Close(); err != nil {
		if s.logger != nil {
			s.logger.Error("Failed to close database connection", err, nil)
		}
		return err
	}
	if s.logger != nil {
		s.logger.Info("Database connection closed", nil)
	}
	return nil
}

// rebind converte placeholders ? para a sintaxe $n do postgres
func (s *SQLIdempotencyStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}

	var builder strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteString(fmt.Sprintf("$%d", n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// logStorageOperation registra operações de storage
func (s *SQLIdempotencyStore) logStorageOperation(operation, key string, success bool, latency float64, err error) {
	if s.logger == nil {
		return
	}

	if success {
		s.logger.Debug("Storage operation completed", map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	} else {
		s.logger.Error("Storage operation failed", err, map[string]interface{}{
			"operation": operation,
			"key":       key,
			"latency":   latency,
		})
	}
}
