package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
)

var (
	//go:embed schema_postgres.sql
	postgresSchema string

	//go:embed schema_mysql.sql
	mysqlSchema string
)

const (
	orderColumns       = "id, user_id, total, status, customer_email, customer_snapshot, created_at, updated_at"
	legacyOrderColumns = "id, user_id, total, status, customer_email, created_at, updated_at"
)

type productRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Category  string          `db:"category"`
	Price     decimal.Decimal `db:"price"`
	Active    bool            `db:"active"`
	Stock     int             `db:"stock"`
	MinStock  int             `db:"min_stock"`
	Version   int             `db:"version"`
	Status    string          `db:"status"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

type orderRow struct {
	ID               string          `db:"id"`
	UserID           string          `db:"user_id"`
	Total            decimal.Decimal `db:"total"`
	Status           string          `db:"status"`
	CustomerEmail    string          `db:"customer_email"`
	CustomerSnapshot sql.NullString  `db:"customer_snapshot"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

type lineRow struct {
	OrderID     string          `db:"order_id"`
	ProductID   string          `db:"product_id"`
	ProductName string          `db:"product_name"`
	Quantity    int             `db:"quantity"`
	Price       decimal.Decimal `db:"price"`
}

type inquiryRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Email         string         `db:"email"`
	Phone         sql.NullString `db:"phone"`
	Subject       string         `db:"subject"`
	Message       string         `db:"message"`
	Status        string         `db:"status"`
	AppointmentAt sql.NullTime   `db:"appointment_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// Open connects with driver ("postgres" or "mysql") and applies the pool limits.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(max(1, maxOpenConns/2))
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

type SQLOption func(*SQLStore)

// WithSchemaDriftCompat lets order writes and reads continue without the
// customer_snapshot column. Off by default: drift is reported instead.
func WithSchemaDriftCompat(enabled bool) SQLOption {
	return func(s *SQLStore) { s.allowSchemaDrift = enabled }
}

// SQLStore implements the stock ledger and the order and inquiry
// repositories on Postgres or MySQL. Queries are written with ? and rebound
// for the connected driver.
type SQLStore struct {
	db               *sqlx.DB
	allowSchemaDrift bool
	now              func() time.Time
}

func NewSQLStore(db *sqlx.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates missing tables. Existing tables are left alone, so a stale
// schema still surfaces as drift at query time.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if s.db.DriverName() == "mysql" {
		schema = mysqlSchema
	}

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Str("driver", s.db.DriverName()).Msg("schema migrated")
	return nil
}

// stockStatusSQL derives products.status from a stock expression. It must be
// assigned before stock in an UPDATE: MySQL applies SET clauses left to right,
// and this keeps both dialects reading the pre-update stock.
func stockStatusSQL(expr string) string {
	return "CASE WHEN " + expr + " <= 0 THEN 'out_of_stock' WHEN " + expr + " <= min_stock THEN 'low_stock' ELSE 'active' END"
}

func (s *SQLStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, name, category, price, active, stock, min_stock, version, status, created_at, updated_at
		FROM products WHERE id = ?`), productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("product", productID)
	}
	if err != nil {
		return nil, classify("get product", "products", err)
	}

	return &domain.Product{
		ID:        row.ID,
		Name:      row.Name,
		Category:  row.Category,
		Price:     row.Price,
		Active:    row.Active,
		Stock:     row.Stock,
		MinStock:  row.MinStock,
		Version:   row.Version,
		Status:    domain.ProductStatus(row.Status),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (s *SQLStore) ReserveStock(ctx context.Context, productID string, quantity int) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET status = `+stockStatusSQL("(stock - ?)")+`, stock = stock - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND stock >= ?`),
		quantity, quantity, quantity, s.now(), productID, quantity,
	)
	if err != nil {
		return false, classify("reserve stock", "products", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, classify("reserve stock", "products", err)
	}
	return rows == 1, nil
}

func (s *SQLStore) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, classify("begin tx", "products", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE products
		SET status = `+stockStatusSQL("GREATEST(stock - ?, 0)")+`, stock = GREATEST(stock - ?, 0), version = version + 1, updated_at = ?
		WHERE id = ?`),
		quantity, quantity, quantity, s.now(), productID,
	)
	if err != nil {
		return 0, classify("decrement stock", "products", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return 0, domain.NotFound("product", productID)
	}

	var stock int
	if err := tx.GetContext(ctx, &stock, tx.Rebind(`SELECT stock FROM products WHERE id = ?`), productID); err != nil {
		return 0, classify("decrement stock", "products", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("commit", "products", err)
	}
	return stock, nil
}

func (s *SQLStore) RestoreStock(ctx context.Context, productID string, quantity int) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET status = `+stockStatusSQL("(stock + ?)")+`, stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ?`),
		quantity, quantity, quantity, s.now(), productID,
	)
	if err != nil {
		return classify("restore stock", "products", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFound("product", productID)
	}
	return nil
}

func (s *SQLStore) SetStock(ctx context.Context, productID string, stock, version int) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET status = `+stockStatusSQL("?")+`, stock = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		stock, stock, stock, s.now(), productID, version,
	)
	if err != nil {
		return classify("set stock", "products", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}
	exists, err := s.exists(ctx, "products", productID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NotFound("product", productID)
	}
	return domain.ErrConcurrentUpdate
}

func (s *SQLStore) ResetStock(ctx context.Context, productID string, stock int) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET status = `+stockStatusSQL("?")+`, stock = ?, version = version + 1, updated_at = ?
		WHERE id = ?`),
		stock, stock, stock, s.now(), productID,
	)
	if err != nil {
		return classify("reset stock", "products", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFound("product", productID)
	}
	return nil
}

func (s *SQLStore) ListProductIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM products ORDER BY id`); err != nil {
		return nil, classify("list products", "products", err)
	}
	return ids, nil
}

func (s *SQLStore) exists(ctx context.Context, table, id string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), id)
	if err != nil {
		return false, classify("lookup", table, err)
	}
	return count > 0, nil
}

func (s *SQLStore) InsertOrder(ctx context.Context, order domain.Order) error {
	snapshot, err := json.Marshal(order.Customer)
	if err != nil {
		return fmt.Errorf("encode customer snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.UserID, order.Total, order.Status, order.CustomerEmail, string(snapshot),
		order.CreatedAt, order.UpdatedAt,
	)
	if err == nil {
		return nil
	}

	err = classify("insert order", "orders", err)
	if !s.allowSchemaDrift || !isSnapshotDrift(err) {
		return err
	}

	log.Warn().Err(err).Str("orderId", order.ID).Msg("orders.customer_snapshot missing, inserting without it")
	_, retryErr := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO orders (`+legacyOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		order.ID, order.UserID, order.Total, order.Status, order.CustomerEmail,
		order.CreatedAt, order.UpdatedAt,
	)
	if retryErr != nil {
		return classify("insert order", "orders", retryErr)
	}

	s.backfillSnapshot(ctx, order.ID, string(snapshot))
	return nil
}

// backfillSnapshot retries the snapshot write in case the column was added
// meanwhile. Failure only costs the customer details.
func (s *SQLStore) backfillSnapshot(ctx context.Context, orderID, snapshot string) {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE orders SET customer_snapshot = ? WHERE id = ?`), snapshot, orderID)
	if err == nil {
		return
	}
	err = classify("backfill snapshot", "orders", err)
	var drift *domain.SchemaDriftError
	if errors.As(err, &drift) {
		log.Warn().Str("orderId", orderID).Str("migration", drift.MigrationSQL).Msg("customer snapshot not stored")
		return
	}
	log.Warn().Err(err).Str("orderId", orderID).Msg("customer snapshot backfill failed")
}

func (s *SQLStore) InsertOrderLines(ctx context.Context, orderID string, lines []domain.OrderLine) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin tx", "order_items", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`INSERT INTO order_items (order_id, product_id, quantity, price) VALUES (?, ?, ?, ?)`)
	for _, line := range lines {
		if _, err := tx.ExecContext(ctx, query, orderID, line.ProductID, line.Quantity, line.UnitPrice); err != nil {
			return classify("insert order line", "order_items", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", "order_items", err)
	}
	return nil
}

func (s *SQLStore) DeleteOrder(ctx context.Context, orderID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin tx", "orders", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM order_items WHERE order_id = ?`), orderID); err != nil {
		return classify("delete order lines", "order_items", err)
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM orders WHERE id = ?`), orderID)
	if err != nil {
		return classify("delete order", "orders", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFound("order", orderID)
	}

	if err := tx.Commit(); err != nil {
		return classify("commit", "orders", err)
	}
	return nil
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	orders, err := s.selectOrders(ctx, "WHERE id = ?", orderID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.NotFound("order", orderID)
	}
	return &orders[0], nil
}

func (s *SQLStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		conds []string
		args  []any
	)

	if len(filter.Statuses) > 0 {
		var aliases []string
		for _, st := range filter.Statuses {
			aliases = append(aliases, st.Aliases()...)
		}
		conds = append(conds, "LOWER(status) IN (?)")
		args = append(args, aliases)
	}
	if filter.CustomerEmail != "" {
		conds = append(conds, "customer_email = ?")
		args = append(args, strings.ToLower(strings.TrimSpace(filter.CustomerEmail)))
	}
	if filter.Archived != nil {
		terminal := append(domain.OrderStatusCompleted.Aliases(), domain.OrderStatusCancelled.Aliases()...)
		if *filter.Archived {
			conds = append(conds, "LOWER(status) IN (?)")
		} else {
			conds = append(conds, "LOWER(status) NOT IN (?)")
		}
		args = append(args, terminal)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return s.selectOrders(ctx, where+" ORDER BY created_at DESC", args...)
}

func (s *SQLStore) selectOrders(ctx context.Context, clause string, args ...any) ([]domain.Order, error) {
	rows, err := s.queryOrders(ctx, orderColumns, clause, args)
	if err != nil && s.allowSchemaDrift && isSnapshotDrift(err) {
		log.Warn().Err(err).Msg("orders.customer_snapshot missing, reading without it")
		rows, err = s.queryOrders(ctx, legacyOrderColumns, clause, args)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.Order{}, nil
	}

	lines, err := s.selectLines(ctx, rows)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		order.Lines = lines[order.ID]
		if order.Lines == nil {
			order.Lines = []domain.OrderLine{}
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (s *SQLStore) queryOrders(ctx context.Context, columns, clause string, args []any) ([]orderRow, error) {
	query, args, err := sqlx.In("SELECT "+columns+" FROM orders "+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("build order query: %w", err)
	}

	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, classify("select orders", "orders", err)
	}
	return rows, nil
}

func (s *SQLStore) selectLines(ctx context.Context, orders []orderRow) (map[string][]domain.OrderLine, error) {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	query, args, err := sqlx.In(`
		SELECT oi.order_id, oi.product_id, COALESCE(p.name, '') AS product_name, oi.quantity, oi.price
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id IN (?)
		ORDER BY oi.id`, ids)
	if err != nil {
		return nil, fmt.Errorf("build line query: %w", err)
	}

	var rows []lineRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, classify("select order lines", "order_items", err)
	}

	lines := make(map[string][]domain.OrderLine, len(orders))
	for _, r := range rows {
		lines[r.OrderID] = append(lines[r.OrderID], domain.OrderLine{
			OrderID:     r.OrderID,
			ProductID:   r.ProductID,
			ProductName: r.ProductName,
			Quantity:    r.Quantity,
			UnitPrice:   r.Price,
		})
	}
	return lines, nil
}

// toDomain normalizes legacy status spellings and falls back to the email
// column when no snapshot was stored.
func (r orderRow) toDomain() (domain.Order, error) {
	status, err := domain.ParseOrderStatus(r.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", r.ID, err)
	}

	order := domain.Order{
		ID:            r.ID,
		UserID:        r.UserID,
		Total:         r.Total,
		Status:        status,
		CustomerEmail: r.CustomerEmail,
		Customer:      domain.CustomerSnapshot{Email: r.CustomerEmail},
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.CustomerSnapshot.Valid && r.CustomerSnapshot.String != "" {
		if err := json.Unmarshal([]byte(r.CustomerSnapshot.String), &order.Customer); err != nil {
			log.Warn().Err(err).Str("orderId", r.ID).Msg("unreadable customer snapshot")
		}
	}
	return order, nil
}

func (s *SQLStore) UpdateOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) error {
	query, args, err := sqlx.In(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND LOWER(status) IN (?)`,
		to, s.now(), orderID, from.Aliases())
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return classify("update order status", "orders", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	exists, err := s.exists(ctx, "orders", orderID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NotFound("order", orderID)
	}
	return domain.ErrConcurrentUpdate
}

func (s *SQLStore) GetInquiry(ctx context.Context, inquiryID string) (*domain.Inquiry, error) {
	var row inquiryRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, name, email, phone, subject, message, status, appointment_at, created_at, updated_at
		FROM inquiries WHERE id = ?`), inquiryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("inquiry", inquiryID)
	}
	if err != nil {
		return nil, classify("get inquiry", "inquiries", err)
	}

	status, err := domain.ParseInquiryStatus(row.Status)
	if err != nil {
		return nil, fmt.Errorf("inquiry %s: %w", row.ID, err)
	}
	inq := &domain.Inquiry{
		ID:        row.ID,
		Name:      row.Name,
		Email:     row.Email,
		Phone:     row.Phone.String,
		Subject:   row.Subject,
		Message:   row.Message,
		Status:    status,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.AppointmentAt.Valid {
		inq.AppointmentAt = &row.AppointmentAt.Time
	}
	return inq, nil
}

func (s *SQLStore) UpdateInquiryStatus(ctx context.Context, inquiryID string, from, to domain.InquiryStatus) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE inquiries SET status = ?, updated_at = ? WHERE id = ? AND LOWER(status) = ?`),
		to, s.now(), inquiryID, string(from),
	)
	if err != nil {
		return classify("update inquiry status", "inquiries", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	exists, err := s.exists(ctx, "inquiries", inquiryID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NotFound("inquiry", inquiryID)
	}
	return domain.ErrConcurrentUpdate
}
