package database

var schemas = map[string][]string{
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(36) PRIMARY KEY,
    name VARCHAR(255) NOT NULL DEFAULT '',
    email VARCHAR(255) NOT NULL UNIQUE,
    phone VARCHAR(64) NOT NULL DEFAULT '',
    balance INT NOT NULL DEFAULT 0,
    is_pro TINYINT(1) NOT NULL DEFAULT 0,
    pro_type INT NOT NULL DEFAULT 0,
    pro_time DATETIME(3) NULL,
    pending_txn_id VARCHAR(32) NOT NULL DEFAULT '',
    created_at DATETIME(3) NOT NULL,
    updated_at DATETIME(3) NOT NULL,
    KEY idx_users_pending_txn (pending_txn_id)
)`,
		`CREATE TABLE IF NOT EXISTS payments (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(36) NOT NULL,
    amount INT NOT NULL,
    kind VARCHAR(32) NOT NULL,
    pro_plan INT NOT NULL DEFAULT 0,
    credit_amount INT NOT NULL DEFAULT 0,
    via VARCHAR(32) NOT NULL,
    txn_ref VARCHAR(64) NOT NULL DEFAULT '',
    created_at DATETIME(3) NOT NULL,
    KEY idx_payments_txn_ref (via, txn_ref),
    FOREIGN KEY (user_id) REFERENCES users(id)
)`,
	},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL UNIQUE,
    phone TEXT NOT NULL DEFAULT '',
    balance INTEGER NOT NULL DEFAULT 0,
    is_pro BOOLEAN NOT NULL DEFAULT 0,
    pro_type INTEGER NOT NULL DEFAULT 0,
    pro_time DATETIME NULL,
    pending_txn_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_users_pending_txn ON users (pending_txn_id)`,
		`CREATE TABLE IF NOT EXISTS payments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL REFERENCES users(id),
    amount INTEGER NOT NULL,
    kind TEXT NOT NULL,
    pro_plan INTEGER NOT NULL DEFAULT 0,
    credit_amount INTEGER NOT NULL DEFAULT 0,
    via TEXT NOT NULL,
    txn_ref TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_txn_ref ON payments (via, txn_ref)`,
	},
}
