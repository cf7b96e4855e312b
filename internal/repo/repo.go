package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repo wraps database access for users, conversations, messages and the
// job event log.
type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   string
}

func (r *Repo) CreateUser(ctx context.Context, u User) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users(id,email,display_name,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Email, u.DisplayName, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repo) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,email,COALESCE(display_name,''),created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,email,COALESCE(display_name,''),created_at FROM users WHERE email=?`, email).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt string
	UpdatedAt string
}

func (r *Repo) CreateConversation(ctx context.Context, c Conversation) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO conversations(id,user_id,title,created_at,updated_at) VALUES (?,?,?,?,?)`,
		c.ID, c.UserID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (r *Repo) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var c Conversation
	err := r.DB.QueryRowContext(ctx,
		`SELECT id,user_id,COALESCE(title,''),created_at,updated_at FROM conversations WHERE id=?`, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (r *Repo) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,user_id,COALESCE(title,''),created_at,updated_at FROM conversations WHERE user_id=? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) TouchConversation(ctx context.Context, id, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE conversations SET updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) DeleteConversation(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM conversations WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      string
}

func (r *Repo) AppendMessage(ctx context.Context, m Message) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO messages(id,conversation_id,role,content,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (r *Repo) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,conversation_id,role,content,created_at FROM messages WHERE conversation_id=? ORDER BY created_at,id LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type Event struct {
	ID        int64
	TS        string
	Type      string
	JobID     string
	AgentType string
	Payload   string
}

// ListEvents returns events after the given id, oldest first.
func (r *Repo) ListEvents(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(job_id,''),COALESCE(agent_type,''),payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.JobID, &e.AgentType, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r *Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("latest event id: %w", err)
	}
	return id, nil
}

// ListJobEvents returns all events for one job, oldest first.
func (r *Repo) ListJobEvents(ctx context.Context, jobID string) ([]Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(job_id,''),COALESCE(agent_type,''),payload_json FROM events WHERE job_id=? ORDER BY id`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.JobID, &e.AgentType, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
