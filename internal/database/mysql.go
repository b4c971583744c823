package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// MySQLConfig holds the connection settings of a MySQL database.
type MySQLConfig struct {
	Host              string
	Port              int
	Database          string
	Username          string
	Password          string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnMaxIdleTime   time.Duration
	ConnectionTimeout time.Duration
}

// DSN returns the driver data source name for cfg.
func (cfg MySQLConfig) DSN() string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.Username
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsn.DBName = cfg.Database
	dsn.ParseTime = true
	dsn.Timeout = cfg.ConnectionTimeout
	return dsn.FormatDSN()
}

// MySQLDatabase implements the core.Database interface using MySQL.
type MySQLDatabase struct {
	db     *sql.DB
	logger *slog.Logger
	closed bool
}

// NewMySQLDatabase opens a connection pool and checks that the server answers.
func NewMySQLDatabase(cfg MySQLConfig, logger *slog.Logger) (*MySQLDatabase, error) {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewMySQLDatabaseFromDB(db, logger), nil
}

// NewMySQLDatabaseFromDB wraps an already opened pool.
func NewMySQLDatabaseFromDB(db *sql.DB, logger *slog.Logger) *MySQLDatabase {
	if logger == nil {
		logger = slog.Default()
	}
	return &MySQLDatabase{db: db, logger: logger.With("component", "mysql")}
}

// Query executes a SELECT query and returns rows.
func (m *MySQLDatabase) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	if m.closed {
		return nil, fmt.Errorf("database is closed")
	}
	m.logger.Debug("executing query", "query", query, "args", len(args))
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &mysqlRows{rows: rows}, nil
}

// Exec executes a non-query statement and returns a result.
func (m *MySQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (core.ExecResult, error) {
	if m.closed {
		return nil, fmt.Errorf("database is closed")
	}
	m.logger.Debug("executing statement", "query", query, "args", len(args))
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	return result, nil
}

// GetSchema retrieves the column layout and primary key of a table.
func (m *MySQLDatabase) GetSchema(ctx context.Context, tableName string) (*core.Schema, error) {
	if m.closed {
		return nil, fmt.Errorf("database is closed")
	}

	schema := &core.Schema{
		TableName: tableName,
		Columns:   []core.Column{},
	}

	query := `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, COLUMN_DEFAULT, COLUMN_KEY
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	rows, err := m.db.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var colName, dataType, isNullable, columnKey string
		var colDefault sql.NullString
		if err := rows.Scan(&colName, &dataType, &isNullable, &colDefault, &columnKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		column := core.Column{
			Name:     colName,
			Type:     dataType,
			Nullable: isNullable == "YES",
		}
		if colDefault.Valid {
			column.Default = colDefault.String
		}
		if columnKey == "PRI" {
			schema.PrimaryKey = colName
		}

		schema.Columns = append(schema.Columns, column)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("table %s does not exist", tableName)
	}
	if schema.PrimaryKey == "" {
		return nil, fmt.Errorf("table %s does not have a primary key", tableName)
	}

	return schema, nil
}

// Close closes the database connection.
func (m *MySQLDatabase) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// mysqlRows wraps sql.Rows to implement core.Rows.
type mysqlRows struct {
	rows *sql.Rows
}

func (r *mysqlRows) Next() bool {
	return r.rows.Next()
}

func (r *mysqlRows) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

func (r *mysqlRows) Close() error {
	return r.rows.Close()
}

func (r *mysqlRows) Err() error {
	return r.rows.Err()
}
