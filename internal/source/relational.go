package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/ibmdb/go_ibm_db"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"

	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// connectTimeout is the default DB driver connect timeout (spec §5).
const connectTimeout = 180 * time.Second

// poolMaxAge is the fixed age at which pooled connections are recycled
// (spec §4.3, "pooling discipline").
const poolMaxAge = 30 * time.Minute

// relationalAdapter executes parameterized SQL against SQL Server, Oracle,
// DB2, and MariaDB via database/sql, one driver per ConnectionKind.
type relationalAdapter struct {
	kind types.ConnectionKind
}

// NewRelationalAdapter returns the Adapter for one of the four relational
// ConnectionKind values.
func NewRelationalAdapter(kind types.ConnectionKind) Adapter {
	return &relationalAdapter{kind: kind}
}

func (a *relationalAdapter) driverAndDSN(profile types.ConnectionProfile) (string, string, error) {
	switch a.kind {
	case types.KindSQLServer:
		dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			profile.Username, profile.Password, profile.Host, profile.Port, profile.Database)
		return "sqlserver", dsn, nil
	case types.KindOracle:
		dsn := fmt.Sprintf("oracle://%s:%s@%s:%d/%s",
			profile.Username, profile.Password, profile.Host, profile.Port, profile.Database)
		return "oracle", dsn, nil
	case types.KindDB2:
		dsn := fmt.Sprintf("HOSTNAME=%s;PORT=%d;DATABASE=%s;UID=%s;PWD=%s",
			profile.Host, profile.Port, profile.Database, profile.Username, profile.Password)
		return "go_ibm_db", dsn, nil
	case types.KindMariaDB:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", profile.Username, profile.Password, profile.Host, profile.Port, profile.Database)
		return "mysql", dsn, nil
	default:
		return "", "", fmt.Errorf("relational adapter: unhandled kind %s", a.kind)
	}
}

func (a *relationalAdapter) Open(ctx context.Context, profile types.ConnectionProfile, query string, batchSize int) (Cursor, error) {
	driverName, dsn, err := a.driverAndDSN(profile)
	if err != nil {
		return nil, pipelineerrors.Config("open_relational_source", err.Error())
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, pipelineerrors.Driver("source", "open", err.Error())
	}
	db.SetConnMaxLifetime(poolMaxAge)
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, pipelineerrors.Driver("source", "ping", err.Error())
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		db.Close()
		return nil, pipelineerrors.Driver("source", "query", err.Error())
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		db.Close()
		return nil, pipelineerrors.Driver("source", "columns", err.Error())
	}

	return &relationalCursor{
		db:        db,
		rows:      rows,
		columns:   columns,
		batchSize: batchSize,
	}, nil
}

// relationalCursor pulls rows up to batchSize at a time, preserving source
// order, and releases the statement and connection on every exit path.
type relationalCursor struct {
	db        *sql.DB
	rows      *sql.Rows
	columns   []string
	batchSize int
	exhausted bool
}

func (c *relationalCursor) Next(ctx context.Context) (Batch, bool, error) {
	if c.exhausted {
		return Batch{}, false, nil
	}

	batch := Batch{Columns: c.columns}
	values := make([]interface{}, len(c.columns))
	scanDest := make([]interface{}, len(c.columns))
	for i := range values {
		scanDest[i] = &values[i]
	}

	for len(batch.Rows) < c.batchSize {
		if !c.rows.Next() {
			c.exhausted = true
			break
		}
		if err := c.rows.Scan(scanDest...); err != nil {
			return Batch{}, false, pipelineerrors.Driver("source", "scan", err.Error())
		}
		rowCopy := make([]interface{}, len(values))
		copy(rowCopy, values)
		batch.Rows = append(batch.Rows, rowCopy)
	}
	if err := c.rows.Err(); err != nil {
		return Batch{}, false, pipelineerrors.Driver("source", "iterate", err.Error())
	}
	if len(batch.Rows) == 0 {
		return Batch{}, false, nil
	}
	return batch, true, nil
}

func (c *relationalCursor) Close() error {
	if c.rows != nil {
		c.rows.Close()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
