package marketsrv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matthewbaird/atelier/pkg/characters"
	"github.com/matthewbaird/atelier/pkg/lineitems"
	"github.com/matthewbaird/atelier/pkg/profiles"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("marketsrv: not found")

const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	guest INTEGER NOT NULL DEFAULT 0,
	email TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	artist_mode INTEGER NOT NULL DEFAULT 0,
	landscape INTEGER NOT NULL DEFAULT 0,
	rating INTEGER NOT NULL DEFAULT 0,
	taggable INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS artist_profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
	commissions_closed INTEGER NOT NULL DEFAULT 0,
	max_load INTEGER NOT NULL DEFAULT 10,
	load INTEGER NOT NULL DEFAULT 0,
	auto_withdraw INTEGER NOT NULL DEFAULT 1,
	public_queue INTEGER NOT NULL DEFAULT 1,
	commission_info TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	base_price TEXT NOT NULL,
	revisions INTEGER NOT NULL DEFAULT 1,
	expected_turnaround INTEGER NOT NULL DEFAULT 5,
	available INTEGER NOT NULL DEFAULT 1,
	max_parallel INTEGER NOT NULL DEFAULT 0,
	table_product INTEGER NOT NULL DEFAULT 0,
	escrow_enabled INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS characters (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	private INTEGER NOT NULL DEFAULT 0,
	open_requests INTEGER NOT NULL DEFAULT 0,
	taggable INTEGER NOT NULL DEFAULT 1,
	UNIQUE (user_id, name)
);
CREATE TABLE IF NOT EXISTS character_attributes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	character_id INTEGER NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
	key TEXT NOT NULL,
	value TEXT NOT NULL DEFAULT '',
	sticky INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS character_colors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	character_id INTEGER NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
	note TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS character_shares (
	character_id INTEGER NOT NULL REFERENCES characters(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (character_id, user_id)
);
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	buyer_id INTEGER NOT NULL REFERENCES users(id),
	seller_id INTEGER NOT NULL REFERENCES users(id),
	product_id INTEGER REFERENCES products(id),
	status TEXT NOT NULL DEFAULT 'new'
);
CREATE TABLE IF NOT EXISTS order_line_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	priority INTEGER NOT NULL DEFAULT 0,
	cascade_under INTEGER NOT NULL DEFAULT 0,
	type INTEGER NOT NULL DEFAULT 0,
	amount TEXT NOT NULL DEFAULT '0',
	percentage TEXT NOT NULL DEFAULT '0',
	cascade_amount INTEGER NOT NULL DEFAULT 0,
	cascade_percentage INTEGER NOT NULL DEFAULT 0,
	back_into_percentage INTEGER NOT NULL DEFAULT 0,
	frozen_value TEXT,
	description TEXT NOT NULL DEFAULT ''
);
`

// Storage wraps the SQL database with marketplace queries.
type Storage struct {
	db *sql.DB
}

// NewStorage prepares the schema and returns the store.
func NewStorage(ctx context.Context, db *sql.DB) (*Storage, error) {
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("marketsrv: enabling foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("marketsrv: creating schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Order is one commission order.
type Order struct {
	ID        int64  `json:"id"`
	BuyerID   int64  `json:"buyer_id"`
	SellerID  int64  `json:"seller_id"`
	ProductID *int64 `json:"product_id"`
	Status    string `json:"status"`
}

// OrderLineItem is a stored line item plus its owning order.
type OrderLineItem struct {
	lineitems.LineItem
	OrderID int64 `json:"order_id"`
}

func (s *Storage) UserByUsername(ctx context.Context, username string) (*profiles.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, guest, email, avatar_url, artist_mode, landscape, rating, taggable
		FROM users WHERE username = ?`, username)
	var u profiles.User
	err := row.Scan(&u.ID, &u.Username, &u.Guest, &u.Email, &u.AvatarURL,
		&u.ArtistMode, &u.Landscape, &u.Rating, &u.TaggingOK)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marketsrv: loading user %q: %w", username, err)
	}
	return &u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *profiles.User) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, guest, email, avatar_url, artist_mode, landscape, rating, taggable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Guest, u.Email, u.AvatarURL, u.ArtistMode, u.Landscape, u.Rating, u.TaggingOK)
	if err != nil {
		return fmt.Errorf("marketsrv: creating user %q: %w", u.Username, err)
	}
	u.ID, _ = res.LastInsertId()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artist_profiles (user_id) VALUES (?)`, u.ID)
	if err != nil {
		return fmt.Errorf("marketsrv: creating artist profile for %q: %w", u.Username, err)
	}
	return nil
}

func (s *Storage) RenameUser(ctx context.Context, id int64, username string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, id)
	if err != nil {
		return fmt.Errorf("marketsrv: renaming user %d: %w", id, err)
	}
	return nil
}

func (s *Storage) ArtistProfileFor(ctx context.Context, userID int64) (*profiles.ArtistProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, commissions_closed, max_load, load, auto_withdraw, public_queue, commission_info
		FROM artist_profiles WHERE user_id = ?`, userID)
	var p profiles.ArtistProfile
	err := row.Scan(&p.ID, &p.CommissionsClosed, &p.MaxLoad, &p.Load,
		&p.AutoWithdraw, &p.PublicQueue, &p.CommissionInfo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marketsrv: loading artist profile for user %d: %w", userID, err)
	}
	return &p, nil
}

func (s *Storage) UpdateArtistProfile(ctx context.Context, userID int64, p *profiles.ArtistProfile) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE artist_profiles
		SET commissions_closed = ?, max_load = ?, load = ?, auto_withdraw = ?, public_queue = ?, commission_info = ?
		WHERE user_id = ?`,
		p.CommissionsClosed, p.MaxLoad, p.Load, p.AutoWithdraw, p.PublicQueue, p.CommissionInfo, userID)
	if err != nil {
		return fmt.Errorf("marketsrv: updating artist profile for user %d: %w", userID, err)
	}
	return nil
}

// ProductsFor returns one page of a user's products plus the total count.
func (s *Storage) ProductsFor(ctx context.Context, userID int64, page, size int) ([]profiles.Product, int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE user_id = ?`, userID).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("marketsrv: counting products: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, base_price, revisions, expected_turnaround,
			available, max_parallel, table_product, escrow_enabled
		FROM products WHERE user_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		userID, size, (page-1)*size)
	if err != nil {
		return nil, 0, fmt.Errorf("marketsrv: listing products: %w", err)
	}
	defer rows.Close()
	out := make([]profiles.Product, 0, size)
	for rows.Next() {
		var p profiles.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.BasePrice, &p.Revisions,
			&p.DaysTurn, &p.Available, &p.MaxParallel, &p.Table, &p.Escrow); err != nil {
			return nil, 0, fmt.Errorf("marketsrv: scanning product: %w", err)
		}
		out = append(out, p)
	}
	return out, count, rows.Err()
}

func (s *Storage) ProductByID(ctx context.Context, id int64) (*profiles.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, base_price, revisions, expected_turnaround,
			available, max_parallel, table_product, escrow_enabled
		FROM products WHERE id = ?`, id)
	var p profiles.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.BasePrice, &p.Revisions,
		&p.DaysTurn, &p.Available, &p.MaxParallel, &p.Table, &p.Escrow)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marketsrv: loading product %d: %w", id, err)
	}
	return &p, nil
}

func (s *Storage) CreateProduct(ctx context.Context, userID int64, p *profiles.Product) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (user_id, name, description, base_price, revisions,
			expected_turnaround, available, max_parallel, table_product, escrow_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, p.Name, p.Description, p.BasePrice, p.Revisions,
		p.DaysTurn, p.Available, p.MaxParallel, p.Table, p.Escrow)
	if err != nil {
		return fmt.Errorf("marketsrv: creating product: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marketsrv: deleting product %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) CharacterByName(ctx context.Context, userID int64, name string) (*characters.Character, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, private, open_requests, taggable
		FROM characters WHERE user_id = ? AND name = ?`, userID, name)
	var ch characters.Character
	err := row.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.Private, &ch.OpenRequest, &ch.TaggingOK)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marketsrv: loading character %q: %w", name, err)
	}
	return &ch, nil
}

func (s *Storage) CreateCharacter(ctx context.Context, userID int64, ch *characters.Character) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO characters (user_id, name, description, private, open_requests, taggable)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, ch.Name, ch.Description, ch.Private, ch.OpenRequest, ch.TaggingOK)
	if err != nil {
		return fmt.Errorf("marketsrv: creating character %q: %w", ch.Name, err)
	}
	ch.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) RenameCharacter(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE characters SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("marketsrv: renaming character %d: %w", id, err)
	}
	return nil
}

func (s *Storage) AttributesFor(ctx context.Context, characterID int64) ([]characters.Attribute, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, value, sticky FROM character_attributes
		WHERE character_id = ? ORDER BY id`, characterID)
	if err != nil {
		return nil, fmt.Errorf("marketsrv: listing attributes: %w", err)
	}
	defer rows.Close()
	var out []characters.Attribute
	for rows.Next() {
		var a characters.Attribute
		if err := rows.Scan(&a.ID, &a.Key, &a.Value, &a.Sticky); err != nil {
			return nil, fmt.Errorf("marketsrv: scanning attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Storage) AddAttribute(ctx context.Context, characterID int64, a *characters.Attribute) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO character_attributes (character_id, key, value, sticky)
		VALUES (?, ?, ?, ?)`, characterID, a.Key, a.Value, a.Sticky)
	if err != nil {
		return fmt.Errorf("marketsrv: adding attribute: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) ColorsFor(ctx context.Context, characterID int64) ([]characters.Color, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, note, color FROM character_colors
		WHERE character_id = ? ORDER BY id`, characterID)
	if err != nil {
		return nil, fmt.Errorf("marketsrv: listing colors: %w", err)
	}
	defer rows.Close()
	var out []characters.Color
	for rows.Next() {
		var c characters.Color
		if err := rows.Scan(&c.ID, &c.Note, &c.Color); err != nil {
			return nil, fmt.Errorf("marketsrv: scanning color: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Storage) AddColor(ctx context.Context, characterID int64, c *characters.Color) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO character_colors (character_id, note, color)
		VALUES (?, ?, ?)`, characterID, c.Note, c.Color)
	if err != nil {
		return fmt.Errorf("marketsrv: adding color: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) SharesFor(ctx context.Context, characterID int64) ([]profiles.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.guest, u.email, u.avatar_url, u.artist_mode, u.landscape, u.rating, u.taggable
		FROM character_shares cs JOIN users u ON u.id = cs.user_id
		WHERE cs.character_id = ? ORDER BY u.username`, characterID)
	if err != nil {
		return nil, fmt.Errorf("marketsrv: listing shares: %w", err)
	}
	defer rows.Close()
	var out []profiles.User
	for rows.Next() {
		var u profiles.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Guest, &u.Email, &u.AvatarURL,
			&u.ArtistMode, &u.Landscape, &u.Rating, &u.TaggingOK); err != nil {
			return nil, fmt.Errorf("marketsrv: scanning share: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Storage) AddShare(ctx context.Context, characterID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO character_shares (character_id, user_id) VALUES (?, ?)`,
		characterID, userID)
	if err != nil {
		return fmt.Errorf("marketsrv: adding share: %w", err)
	}
	return nil
}

func (s *Storage) CreateOrder(ctx context.Context, o *Order) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (buyer_id, seller_id, product_id, status)
		VALUES (?, ?, ?, ?)`, o.BuyerID, o.SellerID, o.ProductID, o.Status)
	if err != nil {
		return fmt.Errorf("marketsrv: creating order: %w", err)
	}
	o.ID, _ = res.LastInsertId()
	return nil
}

func (s *Storage) OrderByID(ctx context.Context, id int64) (*Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, buyer_id, seller_id, product_id, status FROM orders WHERE id = ?`, id)
	var o Order
	err := row.Scan(&o.ID, &o.BuyerID, &o.SellerID, &o.ProductID, &o.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("marketsrv: loading order %d: %w", id, err)
	}
	return &o, nil
}

// LineItemsFor returns one page of an order's line items and the total
// count. A size of zero returns everything.
func (s *Storage) LineItemsFor(ctx context.Context, orderID int64, page, size int) ([]OrderLineItem, int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_line_items WHERE order_id = ?`, orderID).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("marketsrv: counting line items: %w", err)
	}
	q := `
		SELECT id, order_id, priority, cascade_under, type, amount, percentage,
			cascade_amount, cascade_percentage, back_into_percentage, frozen_value, description
		FROM order_line_items WHERE order_id = ? ORDER BY priority, id`
	args := []any{orderID}
	if size > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, size, (page-1)*size)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("marketsrv: listing line items: %w", err)
	}
	defer rows.Close()
	var out []OrderLineItem
	for rows.Next() {
		var li OrderLineItem
		if err := rows.Scan(&li.ID, &li.OrderID, &li.Priority, &li.CascadeUnder, &li.Kind,
			&li.Amount, &li.Percentage, &li.CascadeAmount, &li.CascadePercentage,
			&li.BackIntoPercentage, &li.FrozenValue, &li.Description); err != nil {
			return nil, 0, fmt.Errorf("marketsrv: scanning line item: %w", err)
		}
		out = append(out, li)
	}
	return out, count, rows.Err()
}

func (s *Storage) AddLineItem(ctx context.Context, orderID int64, li *OrderLineItem) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_line_items (order_id, priority, cascade_under, type, amount,
			percentage, cascade_amount, cascade_percentage, back_into_percentage, frozen_value, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		orderID, li.Priority, li.CascadeUnder, li.Kind, li.Amount, li.Percentage,
		li.CascadeAmount, li.CascadePercentage, li.BackIntoPercentage, li.FrozenValue, li.Description)
	if err != nil {
		return fmt.Errorf("marketsrv: adding line item: %w", err)
	}
	li.ID, _ = res.LastInsertId()
	li.OrderID = orderID
	return nil
}

func (s *Storage) DeleteLineItem(ctx context.Context, orderID, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM order_line_items WHERE order_id = ? AND id = ?`, orderID, id)
	if err != nil {
		return fmt.Errorf("marketsrv: deleting line item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
