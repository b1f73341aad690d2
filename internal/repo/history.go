package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"momentum/internal/domain"
)

// History persists conversation messages.
type History struct {
	DB *sql.DB
}

func (h History) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	var pending any
	if msg.Pending != nil {
		data, err := json.Marshal(msg.Pending)
		if err != nil {
			return fmt.Errorf("marshal pending: %w", err)
		}
		pending = string(data)
	}
	terminated := 0
	if msg.Terminated {
		terminated = 1
	}
	_, err := h.DB.ExecContext(ctx, `INSERT INTO messages(conversation_id,id,role,content,function_name,terminated,pending_json,created_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(conversation_id,id) DO UPDATE SET content=excluded.content, terminated=excluded.terminated, pending_json=excluded.pending_json`,
		conversationID, msg.ID, string(msg.Role), msg.Content, nullable(msg.FunctionName), terminated, pending,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (h History) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := h.DB.QueryContext(ctx, `SELECT id,role,content,COALESCE(function_name,''),terminated,COALESCE(pending_json,''),created_at
		FROM messages WHERE conversation_id=? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var (
			m          domain.Message
			role       string
			terminated int
			pending    string
			created    string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.FunctionName, &terminated, &pending, &created); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		m.Terminated = terminated == 1
		if pending != "" {
			var p domain.Pending
			if err := json.Unmarshal([]byte(pending), &p); err != nil {
				return nil, fmt.Errorf("decode pending: %w", err)
			}
			m.Pending = &p
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			m.CreatedAt = ts
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (h History) DeleteMessages(ctx context.Context, conversationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{conversationID}
	for _, id := range ids {
		args = append(args, id)
	}
	q := fmt.Sprintf(`DELETE FROM messages WHERE conversation_id=? AND id IN (%s)`, strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","))
	_, err := h.DB.ExecContext(ctx, q, args...)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
