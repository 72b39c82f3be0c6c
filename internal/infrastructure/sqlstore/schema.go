package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite3"
)

func ParseDialect(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case MySQL:
		return MySQL, nil
	case SQLite, "sqlite":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	return string(d)
}

func (d Dialect) forUpdate() string {
	if d == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

func (d Dialect) insertIgnore() string {
	if d == MySQL {
		return "INSERT IGNORE"
	}
	return "INSERT OR IGNORE"
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
        seq            BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
        id             VARCHAR(64) NOT NULL UNIQUE,
        title          VARCHAR(64) NOT NULL,
        description    VARCHAR(200) NOT NULL DEFAULT '',
        category       VARCHAR(64) NOT NULL DEFAULT '',
        owner          VARCHAR(64) NOT NULL,
        image_url      VARCHAR(512) NOT NULL,
        starting_price DECIMAL(12,2) NOT NULL,
        current_price  DECIMAL(12,2) NOT NULL,
        high_bidder    VARCHAR(64) NOT NULL DEFAULT '',
        state          TINYINT NOT NULL DEFAULT 0,
        created_at     DATETIME(6) NOT NULL,
        updated_at     DATETIME(6) NOT NULL,
        INDEX idx_listings_state (state),
        INDEX idx_listings_category (category),
        INDEX idx_listings_owner (owner)
    )`,
	`CREATE TABLE IF NOT EXISTS bids (
        seq        BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
        id         VARCHAR(64) NOT NULL UNIQUE,
        listing_id VARCHAR(64) NOT NULL,
        bidder     VARCHAR(64) NOT NULL,
        amount     DECIMAL(12,2) NOT NULL,
        placed_at  DATETIME(6) NOT NULL,
        INDEX idx_bids_ledger (listing_id, seq),
        FOREIGN KEY (listing_id) REFERENCES listings(id)
    )`,
	`CREATE TABLE IF NOT EXISTS comments (
        seq        BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
        id         VARCHAR(64) NOT NULL UNIQUE,
        listing_id VARCHAR(64) NOT NULL,
        author     VARCHAR(64) NOT NULL,
        text       VARCHAR(200) NOT NULL,
        likes      INT NOT NULL DEFAULT 0,
        created_at DATETIME(6) NOT NULL,
        INDEX idx_comments_listing (listing_id, seq),
        FOREIGN KEY (listing_id) REFERENCES listings(id)
    )`,
	`CREATE TABLE IF NOT EXISTS watchlist (
        user_id    VARCHAR(64) NOT NULL,
        listing_id VARCHAR(64) NOT NULL,
        created_at DATETIME(6) NOT NULL,
        PRIMARY KEY (user_id, listing_id),
        FOREIGN KEY (listing_id) REFERENCES listings(id)
    )`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS listings (
        seq            INTEGER PRIMARY KEY AUTOINCREMENT,
        id             TEXT NOT NULL UNIQUE,
        title          TEXT NOT NULL,
        description    TEXT NOT NULL DEFAULT '',
        category       TEXT NOT NULL DEFAULT '',
        owner          TEXT NOT NULL,
        image_url      TEXT NOT NULL,
        starting_price DECIMAL(12,2) NOT NULL,
        current_price  DECIMAL(12,2) NOT NULL,
        high_bidder    TEXT NOT NULL DEFAULT '',
        state          INTEGER NOT NULL DEFAULT 0,
        created_at     DATETIME NOT NULL,
        updated_at     DATETIME NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_listings_state ON listings (state)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_category ON listings (category)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings (owner)`,
	`CREATE TABLE IF NOT EXISTS bids (
        seq        INTEGER PRIMARY KEY AUTOINCREMENT,
        id         TEXT NOT NULL UNIQUE,
        listing_id TEXT NOT NULL REFERENCES listings(id),
        bidder     TEXT NOT NULL,
        amount     DECIMAL(12,2) NOT NULL,
        placed_at  DATETIME NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_bids_ledger ON bids (listing_id, seq)`,
	`CREATE TABLE IF NOT EXISTS comments (
        seq        INTEGER PRIMARY KEY AUTOINCREMENT,
        id         TEXT NOT NULL UNIQUE,
        listing_id TEXT NOT NULL REFERENCES listings(id),
        author     TEXT NOT NULL,
        text       TEXT NOT NULL,
        likes      INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS idx_comments_listing ON comments (listing_id, seq)`,
	`CREATE TABLE IF NOT EXISTS watchlist (
        user_id    TEXT NOT NULL,
        listing_id TEXT NOT NULL REFERENCES listings(id),
        created_at DATETIME NOT NULL,
        PRIMARY KEY (user_id, listing_id)
    )`,
}

// Migrate creates the tables if they do not exist yet. Statements run one at a
// time because the MySQL driver rejects multi-statement Exec by default.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	schema := mysqlSchema
	if dialect == SQLite {
		schema = sqliteSchema
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
