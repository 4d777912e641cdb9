package postgres

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

	"bentapos/backend/internal/domain"
	"bentapos/backend/internal/store"
	"bentapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, subcategory, unit_type, unit_price_centavos,
			bulk_tiers, stock_in_units, purchase_count, active
		FROM products
		WHERE active = true
		ORDER BY category ASC, purchase_count DESC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, subcategory, unit_type, unit_price_centavos,
			bulk_tiers, stock_in_units, purchase_count, active
		FROM products
		WHERE id = $1
	`, id)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

// AdjustInventory is a single conditional UPDATE: the stock guard and the
// write happen in one statement so concurrent adjustments against the same
// product cannot interleave between a read and a write. Zero rows affected
// means either the guard rejected the decrement or the product is unknown;
// a follow-up existence probe picks the right error.
func (s *Store) AdjustInventory(ctx context.Context, productID string, stockDelta int, purchaseCountDelta int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_in_units = stock_in_units + $2,
			purchase_count = GREATEST(purchase_count + $3, 0),
			updated_at = now()
		WHERE id = $1 AND stock_in_units + $2 >= 0
	`, productID, stockDelta, purchaseCountDelta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)
	`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: product %s, requested %d", store.ErrInsufficientStock, productID, -stockDelta)
}

func (s *Store) AppendSaleRecord(ctx context.Context, record domain.SaleRecord) (*domain.SaleRecord, error) {
	if len(record.Lines) == 0 || record.TotalCentavos < 0 {
		return nil, store.ErrInvalidRecord
	}
	if record.ID == "" {
		record.ID = xid.New("sale")
	}
	if record.Status == "" {
		record.Status = domain.SaleStatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sale_records (id, total_centavos, status, created_at)
		VALUES ($1,$2,$3,$4)
	`, record.ID, record.TotalCentavos, record.Status, record.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	for _, line := range record.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_record_lines (sale_id, product_id, name, unit_price_centavos, qty)
			VALUES ($1,$2,$3,$4,$5)
		`, record.ID, line.ProductID, line.Name, line.UnitPriceCentavos, line.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	saved := record
	return &saved, nil
}

func (s *Store) GetSaleRecordByID(ctx context.Context, id string) (*domain.SaleRecord, error) {
	var record domain.SaleRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, total_centavos, status, created_at
		FROM sale_records
		WHERE id = $1
	`, id).Scan(&record.ID, &record.TotalCentavos, &record.Status, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	record.CreatedAt = record.CreatedAt.UTC()

	lines, err := s.saleLines(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	record.Lines = lines

	return &record, nil
}

func (s *Store) ListSaleRecords(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.SaleRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, total_centavos, status, created_at
		FROM sale_records
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, nullTime(from), nullTime(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SaleRecord, 0, limit)
	for rows.Next() {
		var record domain.SaleRecord
		if err := rows.Scan(&record.ID, &record.TotalCentavos, &record.Status, &record.CreatedAt); err != nil {
			return nil, err
		}
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		lines, err := s.saleLines(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Lines = lines
	}

	return records, nil
}

func (s *Store) saleLines(ctx context.Context, saleID string) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price_centavos, qty
		FROM sale_record_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.Name, &line.UnitPriceCentavos, &line.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRecord
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	var tiersJSON []byte
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Category,
		&product.Subcategory,
		&product.UnitType,
		&product.UnitPriceCentavos,
		&tiersJSON,
		&product.StockInUnits,
		&product.PurchaseCount,
		&product.Active,
	)
	if err != nil {
		return product, err
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &product.BulkTiers); err != nil {
			return product, fmt.Errorf("decode bulk tiers for %s: %w", product.ID, err)
		}
	}
	return product, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}
