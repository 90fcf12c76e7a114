package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/franckalain/chocobrew/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaFS embed.FS

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00" // fixed width so text order is time order
)

var (
	// ErrNotFound is returned when no row matches a lookup or update.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode is returned when a batch code is already taken.
	ErrDuplicateCode = errors.New("batch code already exists")
	// ErrDuplicateUsername is returned when an account name is already taken.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrUnavailable wraps any other storage failure.
	ErrUnavailable = errors.New("storage unavailable")
)

// BatchStore persists batch records.
type BatchStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	InsertBatch(ctx context.Context, batch *models.BatchRecord) (int64, error)
	AttachLookupImage(ctx context.Context, id int64, payload []byte) error
	MarkLookupImageFailed(ctx context.Context, id int64) error
	GetBatch(ctx context.Context, id int64) (*models.BatchRecord, error)
	GetBatchByCode(ctx context.Context, code string) (*models.BatchRecord, error)
	ListBatchesByOwner(ctx context.Context, ownerID int64) ([]*models.BatchRecord, error)
}

// AccountStore persists producer accounts.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) (int64, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
}

// DB interface defines the methods our database should implement
type DB interface {
	BatchStore
	AccountStore
	Ping(ctx context.Context) error
	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + dbPath + "?" + url.Values{
		"_pragma": {"foreign_keys(1)", "journal_mode(WAL)", "busy_timeout(5000)"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

// withConn runs fn on a dedicated connection and always returns it to the pool.
func (s *SQLiteDB) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer conn.Close()
	return fn(conn)
}

func unavailable(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
}

// Ping checks that the database answers.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return unavailable(conn.PingContext(ctx))
	})
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// CodeExists reports whether a batch already uses code.
func (s *SQLiteDB) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM batches WHERE code = ?)`, code,
		).Scan(&exists)
	})
	return exists, unavailable(err)
}

// InsertBatch stores a new batch and returns its id. The lookup image is
// attached separately once the id is known.
func (s *SQLiteDB) InsertBatch(ctx context.Context, b *models.BatchRecord) (int64, error) {
	query := `
		INSERT INTO batches (
			code, owner_id, elaboration_date, expiration_date,
			abv, ibu, srm, og, fg, cacao_pct, fermentation_days, maturation_days,
			score, score_source, category,
			energy_kcal, carbohydrate_g, protein_g, fat_g, sugar_g,
			payload_status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.PayloadStatus == "" {
		b.PayloadStatus = models.PayloadPending
	}

	var id int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query,
			b.Code, b.OwnerID,
			b.ElaborationDate.Format(dateLayout), b.ExpirationDate.Format(dateLayout),
			b.ABV, b.IBU, b.SRM, b.OG, b.FG, b.CacaoPct, b.FermentationDays, b.MaturationDays,
			b.Score, b.ScoreSource, b.Category,
			b.EnergyKcal, b.CarbohydrateG, b.ProteinG, b.FatG, b.SugarG,
			b.PayloadStatus, b.CreatedAt.UTC().Format(timestampLayout),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if isUniqueViolation(err) {
		return 0, ErrDuplicateCode
	}
	if err != nil {
		return 0, unavailable(err)
	}
	b.ID = id
	return id, nil
}

// AttachLookupImage stores the QR payload of batch id.
func (s *SQLiteDB) AttachLookupImage(ctx context.Context, id int64, payload []byte) error {
	return s.updateLookupImage(ctx, id, payload, models.PayloadAttached)
}

// MarkLookupImageFailed records that no payload will be attached to batch id.
func (s *SQLiteDB) MarkLookupImageFailed(ctx context.Context, id int64) error {
	return s.updateLookupImage(ctx, id, nil, models.PayloadFailed)
}

func (s *SQLiteDB) updateLookupImage(ctx context.Context, id int64, payload []byte, status string) error {
	query := `
		UPDATE batches
		SET lookup_image = ?, payload_status = ?
		WHERE id = ?
	`

	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, payload, status, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	return unavailable(err)
}

const batchColumns = `
	id, code, owner_id, elaboration_date, expiration_date,
	abv, ibu, srm, og, fg, cacao_pct, fermentation_days, maturation_days,
	score, score_source, category,
	energy_kcal, carbohydrate_g, protein_g, fat_g, sugar_g,
	lookup_image, payload_status, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*models.BatchRecord, error) {
	var (
		b                       models.BatchRecord
		elaboration, expiration string
		createdAt               string
	)
	err := row.Scan(
		&b.ID, &b.Code, &b.OwnerID, &elaboration, &expiration,
		&b.ABV, &b.IBU, &b.SRM, &b.OG, &b.FG, &b.CacaoPct, &b.FermentationDays, &b.MaturationDays,
		&b.Score, &b.ScoreSource, &b.Category,
		&b.EnergyKcal, &b.CarbohydrateG, &b.ProteinG, &b.FatG, &b.SugarG,
		&b.LookupImage, &b.PayloadStatus, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if b.ElaborationDate, err = time.Parse(dateLayout, elaboration); err != nil {
		return nil, fmt.Errorf("batch %d: bad elaboration date: %w", b.ID, err)
	}
	if b.ExpirationDate, err = time.Parse(dateLayout, expiration); err != nil {
		return nil, fmt.Errorf("batch %d: bad expiration date: %w", b.ID, err)
	}
	if b.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return nil, fmt.Errorf("batch %d: bad created_at: %w", b.ID, err)
	}
	return &b, nil
}

func (s *SQLiteDB) getBatchWhere(ctx context.Context, where string, arg any) (*models.BatchRecord, error) {
	var batch *models.BatchRecord
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE `+where, arg)
		b, err := scanBatch(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		batch = b
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return batch, nil
}

// GetBatch retrieves a batch by id
func (s *SQLiteDB) GetBatch(ctx context.Context, id int64) (*models.BatchRecord, error) {
	return s.getBatchWhere(ctx, "id = ?", id)
}

// GetBatchByCode retrieves a batch by its producer code
func (s *SQLiteDB) GetBatchByCode(ctx context.Context, code string) (*models.BatchRecord, error) {
	return s.getBatchWhere(ctx, "code = ?", code)
}

// ListBatchesByOwner returns an owner's batches, newest first
func (s *SQLiteDB) ListBatchesByOwner(ctx context.Context, ownerID int64) ([]*models.BatchRecord, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE owner_id = ? ORDER BY created_at DESC, id DESC`

	var results []*models.BatchRecord
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			b, err := scanBatch(rows)
			if err != nil {
				return err
			}
			results = append(results, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return results, nil
}

// CreateAccount stores a new account and returns its id
func (s *SQLiteDB) CreateAccount(ctx context.Context, a *models.Account) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	var id int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`INSERT INTO accounts (username, password_hash, created_at) VALUES (?, ?, ?)`,
			a.Username, a.PasswordHash, a.CreatedAt.UTC().Format(timestampLayout),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if isUniqueViolation(err) {
		return 0, ErrDuplicateUsername
	}
	if err != nil {
		return 0, unavailable(err)
	}
	a.ID = id
	return id, nil
}

// GetAccountByUsername retrieves an account by its login name
func (s *SQLiteDB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	var (
		a         models.Account
		createdAt string
	)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx,
			`SELECT id, username, password_hash, created_at FROM accounts WHERE username = ?`, username,
		).Scan(&a.ID, &a.Username, &a.PasswordHash, &createdAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if a.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return nil, fmt.Errorf("account %d: bad created_at: %w", a.ID, err)
	}
	return &a, nil
}
