package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Timestamps are stored as unix nanoseconds.
const createProductsTable = `
CREATE TABLE IF NOT EXISTS products (
	id                  VARCHAR(64)      NOT NULL PRIMARY KEY,
	name                VARCHAR(255)     NOT NULL,
	description         TEXT             NOT NULL,
	price               DOUBLE PRECISION NOT NULL,
	available_inventory INTEGER          NOT NULL DEFAULT 0,
	reserved_inventory  INTEGER          NOT NULL DEFAULT 0,
	stars               INTEGER          NOT NULL DEFAULT 0,
	number_of_reviews   INTEGER          NOT NULL DEFAULT 0,
	version             BIGINT           NOT NULL DEFAULT 1,
	created_at          BIGINT           NOT NULL,
	updated_at          BIGINT           NOT NULL
)`

const productColumns = `id, name, description, price, available_inventory, reserved_inventory,
	stars, number_of_reviews, version, created_at, updated_at`

type productRow struct {
	ID                 string  `db:"id"`
	Name               string  `db:"name"`
	Description        string  `db:"description"`
	Price              float64 `db:"price"`
	AvailableInventory int     `db:"available_inventory"`
	ReservedInventory  int     `db:"reserved_inventory"`
	Stars              int     `db:"stars"`
	NumberOfReviews    int     `db:"number_of_reviews"`
	Version            int64   `db:"version"`
	CreatedAt          int64   `db:"created_at"`
	UpdatedAt          int64   `db:"updated_at"`
}

func toRow(p domain.Product) productRow {
	return productRow{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		Price:              p.Price,
		AvailableInventory: p.AvailableInventory,
		ReservedInventory:  p.ReservedInventory,
		Stars:              p.Stars,
		NumberOfReviews:    p.NumberOfReviews,
		Version:            p.Version,
		CreatedAt:          p.CreatedAt.UnixNano(),
		UpdatedAt:          p.UpdatedAt.UnixNano(),
	}
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		Price:              r.Price,
		AvailableInventory: r.AvailableInventory,
		ReservedInventory:  r.ReservedInventory,
		Stars:              r.Stars,
		NumberOfReviews:    r.NumberOfReviews,
		Version:            r.Version,
		CreatedAt:          time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:          time.Unix(0, r.UpdatedAt).UTC(),
	}
}

// SQLRepository stores products in MySQL, Postgres or SQLite through sqlx.
type SQLRepository struct {
	db *sqlx.DB
}

type sqlTx struct {
	tx *sqlx.Tx
}

func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// OpenSQL connects to driver ("mysql", "postgres" or "sqlite") and verifies the connection.
func OpenSQL(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createProductsTable); err != nil {
		return fmt.Errorf("create products table: %w", err)
	}
	return nil
}

func (r *SQLRepository) Begin(ctx context.Context) (port.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", domain.ErrIO, err)
	}
	return &sqlTx{tx: tx}, nil
}

func (r *SQLRepository) Create(ctx context.Context, tx port.Tx, id string, p domain.Product) (domain.Product, error) {
	stx, err := ownSQL(tx)
	if err != nil {
		return domain.Product{}, err
	}

	p.ID = id
	if p.Version == 0 {
		p.Version = 1
	}

	_, err = stx.tx.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :name, :description, :price, :available_inventory, :reserved_inventory,
			:stars, :number_of_reviews, :version, :created_at, :updated_at)`,
		toRow(p),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.Product{}, fmt.Errorf("%w: product %s already exists", domain.ErrConflict, id)
		}
		return domain.Product{}, fmt.Errorf("%w: insert product: %v", domain.ErrIO, err)
	}

	return r.readTx(ctx, stx, id)
}

func (r *SQLRepository) Read(ctx context.Context, id string) (domain.Product, error) {
	var row productRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: query product: %v", domain.ErrIO, err)
	}
	return row.toDomain(), nil
}

func (r *SQLRepository) ReadAll(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query products: %v", domain.ErrIO, err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (r *SQLRepository) Update(ctx context.Context, tx port.Tx, id string, p domain.Product) (domain.Product, error) {
	stx, err := ownSQL(tx)
	if err != nil {
		return domain.Product{}, err
	}

	row := toRow(p)
	result, err := stx.tx.ExecContext(ctx, stx.tx.Rebind(`
		UPDATE products
		SET name = ?, description = ?, price = ?, available_inventory = ?, reserved_inventory = ?,
			stars = ?, number_of_reviews = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		row.Name, row.Description, row.Price, row.AvailableInventory, row.ReservedInventory,
		row.Stars, row.NumberOfReviews, row.UpdatedAt, id, row.Version,
	)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: update product: %v", domain.ErrIO, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: update product: %v", domain.ErrIO, err)
	}
	if rows == 0 {
		if _, err := r.readTx(ctx, stx, id); err != nil {
			return domain.Product{}, err
		}
		return domain.Product{}, fmt.Errorf("%w: product %s version %d is stale", domain.ErrConflict, id, p.Version)
	}

	return r.readTx(ctx, stx, id)
}

func (r *SQLRepository) Delete(ctx context.Context, tx port.Tx, id string) error {
	stx, err := ownSQL(tx)
	if err != nil {
		return err
	}

	result, err := stx.tx.ExecContext(ctx, stx.tx.Rebind(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("%w: delete product: %v", domain.ErrIO, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete product: %v", domain.ErrIO, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return nil
}

func (r *SQLRepository) readTx(ctx context.Context, stx *sqlTx, id string) (domain.Product, error) {
	var row productRow
	err := stx.tx.GetContext(ctx, &row, stx.tx.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: query product: %v", domain.ErrIO, err)
	}
	return row.toDomain(), nil
}

func ownSQL(tx port.Tx) (*sqlTx, error) {
	stx, ok := tx.(*sqlTx)
	if !ok {
		return nil, ErrForeignTx
	}
	return stx, nil
}

func (t *sqlTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrIO, err)
	}
	return nil
}

// Rollback is safe to call after Commit.
func (t *sqlTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: rollback: %v", domain.ErrIO, err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// modernc reports constraint violations only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
