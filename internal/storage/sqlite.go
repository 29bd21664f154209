package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"instructor/internal/chat"

	_ "modernc.org/sqlite"
)

// handoffKey 交接数据在 kv 表中的固定键 / Fixed key for the handoff payload.
const handoffKey = "session_handoff"

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现，同时充当交接链的主层。
// SQLiteStore implements Store using SQLite with WAL mode. It also serves as
// the primary tier of the handoff chain via a small key-value table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		task_id       TEXT NOT NULL DEFAULT '',
		summary       TEXT NOT NULL DEFAULT '',
		bootstrapped  INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		image_url   TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS progress (
		session_id    TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
		task_list     TEXT NOT NULL DEFAULT '[]',
		current_index INTEGER NOT NULL DEFAULT 0,
		last_guidance TEXT NOT NULL DEFAULT '',
		updated_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS summaries (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS kv_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Session Operations ---

func (s *SQLiteStore) CreateSession(meta SessionMeta) error {
	now := nowUTC()
	if strings.TrimSpace(meta.CreatedAt) == "" {
		meta.CreatedAt = now
	}
	if strings.TrimSpace(meta.UpdatedAt) == "" {
		meta.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, title, model, task_id, summary, bootstrapped, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Title, meta.Model, meta.TaskID, meta.Summary,
		boolToInt(meta.Bootstrapped), meta.CreatedAt, meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(meta SessionMeta) error {
	meta.UpdatedAt = nowUTC()
	_, err := s.db.Exec(`
		UPDATE sessions SET title=?, model=?, task_id=?, summary=?, bootstrapped=?, updated_at=?
		WHERE id=?`,
		meta.Title, meta.Model, meta.TaskID, meta.Summary,
		boolToInt(meta.Bootstrapped), meta.UpdatedAt, meta.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(id string) (SessionMeta, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionMeta{}, fmt.Errorf("session id is empty")
	}
	row := s.db.QueryRow(`
		SELECT id, title, model, task_id, summary, bootstrapped, created_at, updated_at
		FROM sessions WHERE id=?`, id)

	var meta SessionMeta
	var bootstrapped int
	err := row.Scan(&meta.ID, &meta.Title, &meta.Model, &meta.TaskID,
		&meta.Summary, &bootstrapped, &meta.CreatedAt, &meta.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return SessionMeta{}, fmt.Errorf("session not found: %s", id)
		}
		return SessionMeta{}, fmt.Errorf("load session: %w", err)
	}
	meta.Bootstrapped = bootstrapped != 0
	return meta, nil
}

func (s *SQLiteStore) ListSessions() ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, title, model, task_id, summary, bootstrapped, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var metas []SessionMeta
	for rows.Next() {
		var meta SessionMeta
		var bootstrapped int
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Model, &meta.TaskID,
			&meta.Summary, &bootstrapped, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
			continue
		}
		meta.Bootstrapped = bootstrapped != 0
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// --- Message Operations ---

func (s *SQLiteStore) SaveMessages(sessionID string, messages []chat.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 清除旧消息 / Clear old messages
	if _, err := tx.Exec("DELETE FROM messages WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete old messages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO messages (session_id, seq, role, content, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for i, msg := range messages {
		if _, err := stmt.Exec(sessionID, i, msg.Role, msg.PlainText(), firstImageURL(msg), now); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	// 更新 session 时间戳 / Update session timestamp
	if _, err := tx.Exec("UPDATE sessions SET updated_at=? WHERE id=?", now, sessionID); err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadMessages(sessionID string) ([]chat.Message, error) {
	rows, err := s.db.Query(`
		SELECT role, content, image_url
		FROM messages WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var role, content, imageURL string
		if err := rows.Scan(&role, &content, &imageURL); err != nil {
			continue
		}
		if imageURL != "" {
			messages = append(messages, chat.UserObservation(imageURL, content))
			continue
		}
		messages = append(messages, chat.Text(role, content))
	}
	return messages, rows.Err()
}

// --- Progress Snapshot ---

func (s *SQLiteStore) SaveProgress(sessionID string, snap ProgressSnapshot) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	listJSON, err := json.Marshal(snap.TaskList)
	if err != nil {
		return fmt.Errorf("marshal task list: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO progress (session_id, task_list, current_index, last_guidance, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			task_list=excluded.task_list,
			current_index=excluded.current_index,
			last_guidance=excluded.last_guidance,
			updated_at=excluded.updated_at`,
		sessionID, string(listJSON), snap.CurrentIndex, snap.LastGuidance, nowUTC())
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadProgress(sessionID string) (ProgressSnapshot, error) {
	row := s.db.QueryRow(`
		SELECT task_list, current_index, last_guidance FROM progress WHERE session_id=?`, sessionID)

	var snap ProgressSnapshot
	var listJSON string
	if err := row.Scan(&listJSON, &snap.CurrentIndex, &snap.LastGuidance); err != nil {
		if err == sql.ErrNoRows {
			return ProgressSnapshot{}, fmt.Errorf("progress not found: %s", sessionID)
		}
		return ProgressSnapshot{}, fmt.Errorf("load progress: %w", err)
	}
	if err := json.Unmarshal([]byte(listJSON), &snap.TaskList); err != nil {
		return ProgressSnapshot{}, fmt.Errorf("parse task list: %w", err)
	}
	return snap, nil
}

// --- Observation Summaries ---

func (s *SQLiteStore) SaveSummaries(sessionID string, summaries []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM summaries WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete old summaries: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO summaries (session_id, seq, content, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for i, content := range summaries {
		if _, err := stmt.Exec(sessionID, i, content, now); err != nil {
			return fmt.Errorf("insert summary %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadSummaries(sessionID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT content FROM summaries WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			continue
		}
		out = append(out, content)
	}
	return out, rows.Err()
}

// --- Handoff (primary tier) ---

func (s *SQLiteStore) SaveHandoff(h Handoff) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO kv_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		handoffKey, string(data), nowUTC())
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadHandoff() (Handoff, bool, error) {
	row := s.db.QueryRow(`SELECT value FROM kv_state WHERE key=?`, handoffKey)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return Handoff{}, false, nil
		}
		return Handoff{}, false, fmt.Errorf("load handoff: %w", err)
	}
	var h Handoff
	if err := json.Unmarshal([]byte(value), &h); err != nil {
		return Handoff{}, false, fmt.Errorf("parse handoff: %w", err)
	}
	if h.Empty() {
		return Handoff{}, false, nil
	}
	return h, true, nil
}

func (s *SQLiteStore) ClearHandoff() error {
	if _, err := s.db.Exec(`DELETE FROM kv_state WHERE key=?`, handoffKey); err != nil {
		return fmt.Errorf("clear handoff: %w", err)
	}
	return nil
}

// --- Helpers ---

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func firstImageURL(msg chat.Message) string {
	for _, part := range msg.MultiContent {
		if img, ok := part.(chat.ImageContent); ok {
			return img.ImageURL.URL
		}
	}
	return ""
}
