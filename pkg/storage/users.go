package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/ZentaChain/securechat/pkg/protocol"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUserExists      = errors.New("user already exists")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidUsername = errors.New("invalid username")
)

// MemoryDSN opens a private in-memory database
const MemoryDSN = ":memory:"

// UserStore keeps relay accounts in SQLite. Clients send a hex SHA-256 of the
// password; the store only ever sees and keeps a bcrypt of that digest.
type UserStore struct {
	db           *sql.DB
	autoRegister bool
	cost         int
}

// NewUserStore opens (or creates) the account database at path. With
// autoRegister set, the first login for an unknown username creates the
// account.
func NewUserStore(path string, autoRegister bool) (*UserStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == MemoryDSN {
		// Every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	us := &UserStore{db: db, autoRegister: autoRegister, cost: bcrypt.DefaultCost}
	if err := us.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return us, nil
}

func (us *UserStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_login INTEGER
	);
	`
	if _, err := us.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SetCost overrides the bcrypt cost for new passwords
func (us *UserStore) SetCost(cost int) {
	us.cost = cost
}

// Register creates an account
func (us *UserStore) Register(username, hashedPassword string) error {
	if err := validateUsername(username); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(hashedPassword), us.cost)
	if err != nil {
		return err
	}

	res, err := us.db.Exec(
		"INSERT OR IGNORE INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, string(hash), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserExists
	}
	return nil
}

// Authenticate checks credentials. Unknown users are registered on the fly
// when auto-registration is enabled.
func (us *UserStore) Authenticate(username, hashedPassword string) (bool, error) {
	stored, err := us.passwordHash(username)
	if errors.Is(err, ErrNotFound) {
		if !us.autoRegister {
			return false, nil
		}
		if err := us.Register(username, hashedPassword); err != nil && !errors.Is(err, ErrUserExists) {
			return false, err
		}
		// Re-read: a concurrent first login may have won the insert
		stored, err = us.passwordHash(username)
	}
	if err != nil {
		return false, err
	}

	if bcrypt.CompareHashAndPassword([]byte(stored), []byte(hashedPassword)) != nil {
		return false, nil
	}

	us.db.Exec("UPDATE users SET last_login = ? WHERE username = ?", time.Now().Unix(), username)
	return true, nil
}

// Exists reports whether an account exists
func (us *UserStore) Exists(username string) (bool, error) {
	_, err := us.passwordHash(username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Count returns the number of registered accounts
func (us *UserStore) Count() (int, error) {
	var n int
	err := us.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// Close closes the database
func (us *UserStore) Close() error {
	return us.db.Close()
}

func (us *UserStore) passwordHash(username string) (string, error) {
	var hash string
	err := us.db.QueryRow("SELECT password_hash FROM users WHERE username = ?", username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	return hash, nil
}

func validateUsername(name string) error {
	if !protocol.ValidUsername(name) {
		return ErrInvalidUsername
	}
	return nil
}
