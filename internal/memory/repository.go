package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines the durable store behind the memory pipeline. The
// message log is append-only; memories support partial update, soft
// delete and hard delete. Absent rows are reported as (nil, nil) so the
// service layer decides which absences are errors.
type Repository interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error)
	UpdateConversationSummary(ctx context.Context, id uuid.UUID, summary *Summary) error

	CreateMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error)

	CreateMemory(ctx context.Context, rec *Record) error
	GetMemory(ctx context.Context, id uuid.UUID) (*Record, error)
	GetMemoryByEmbeddingRef(ctx context.Context, ownerID uuid.UUID, ref string) (*Record, error)
	SaveMemory(ctx context.Context, rec *Record) error
	SetMemoryActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteMemory(ctx context.Context, id uuid.UUID) error
	ListMemoriesByOwner(ctx context.Context, ownerID uuid.UUID, category string, activeOnly bool) ([]Record, error)
	ReplaceMemoryTags(ctx context.Context, id uuid.UUID, tags []string) error
}

// PostgresRepository implements Repository on pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var (
		conv        Conversation
		summaryJSON []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, summary, created_at, updated_at
		 FROM conversations WHERE id = $1`,
		id,
	).Scan(&conv.ID, &conv.UserID, &conv.Title, &summaryJSON, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	if len(summaryJSON) > 0 {
		var s Summary
		if err := json.Unmarshal(summaryJSON, &s); err == nil {
			conv.Summary = &s
		}
	}
	return &conv, nil
}

func (r *PostgresRepository) ListConversations(ctx context.Context, userID uuid.UUID) ([]Conversation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, title, summary, created_at, updated_at
		 FROM conversations WHERE user_id = $1
		 ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var (
			conv        Conversation
			summaryJSON []byte
		)
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &summaryJSON, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		if len(summaryJSON) > 0 {
			var s Summary
			if err := json.Unmarshal(summaryJSON, &s); err == nil {
				conv.Summary = &s
			}
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func (r *PostgresRepository) UpdateConversationSummary(ctx context.Context, id uuid.UUID, summary *Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET summary = $2, updated_at = $3 WHERE id = $1`,
		id, summaryJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("updating conversation summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateMessage(ctx context.Context, msg *Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, token_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.TokenCount, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, token_count, created_at
		 FROM messages WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) CreateMemory(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning memory insert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO memories (id, owner_id, content, source, importance, category, metadata, is_active, embedding_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.OwnerID, rec.Content, rec.Source, rec.Importance, rec.Category,
		metaJSON, rec.IsActive, rec.EmbeddingRef, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}

	for _, tag := range dedupeTags(rec.Tags) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_tags (memory_id, tag) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			rec.ID, tag,
		); err != nil {
			return fmt.Errorf("inserting memory tag: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing memory insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMemory(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.getMemory(ctx,
		`SELECT id, owner_id, content, source, importance, category, metadata, is_active, embedding_ref, created_at, updated_at
		 FROM memories WHERE id = $1`, id)
}

func (r *PostgresRepository) GetMemoryByEmbeddingRef(ctx context.Context, ownerID uuid.UUID, ref string) (*Record, error) {
	return r.getMemory(ctx,
		`SELECT id, owner_id, content, source, importance, category, metadata, is_active, embedding_ref, created_at, updated_at
		 FROM memories WHERE owner_id = $1 AND embedding_ref = $2`, ownerID, ref)
}

func (r *PostgresRepository) getMemory(ctx context.Context, query string, args ...any) (*Record, error) {
	var (
		rec      Record
		metaJSON []byte
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&rec.ID, &rec.OwnerID, &rec.Content, &rec.Source, &rec.Importance, &rec.Category,
		&metaJSON, &rec.IsActive, &rec.EmbeddingRef, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting memory: %w", err)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &rec.Metadata)
	}

	tags, err := r.memoryTags(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Tags = tags
	return &rec, nil
}

// SaveMemory writes back a full record after the service merged a partial
// update. Tags are managed separately through ReplaceMemoryTags.
func (r *PostgresRepository) SaveMemory(ctx context.Context, rec *Record) error {
	metaJSON, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()

	tag, err := r.pool.Exec(ctx,
		`UPDATE memories
		 SET content = $2, source = $3, importance = $4, category = $5, metadata = $6,
		     is_active = $7, embedding_ref = $8, updated_at = $9
		 WHERE id = $1`,
		rec.ID, rec.Content, rec.Source, rec.Importance, rec.Category,
		metaJSON, rec.IsActive, rec.EmbeddingRef, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SetMemoryActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE memories SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting memory active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteMemory(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListMemoriesByOwner(ctx context.Context, ownerID uuid.UUID, category string, activeOnly bool) ([]Record, error) {
	query := `SELECT id, owner_id, content, source, importance, category, metadata, is_active, embedding_ref, created_at, updated_at
	          FROM memories WHERE owner_id = $1`
	args := []any{ownerID}
	if category != "" {
		args = append(args, category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if activeOnly {
		query += " AND is_active"
	}
	query += " ORDER BY importance DESC, updated_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var (
			rec      Record
			metaJSON []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.OwnerID, &rec.Content, &rec.Source, &rec.Importance, &rec.Category,
			&metaJSON, &rec.IsActive, &rec.EmbeddingRef, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &rec.Metadata)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		tags, err := r.memoryTags(ctx, recs[i].ID)
		if err != nil {
			return nil, err
		}
		recs[i].Tags = tags
	}
	return recs, nil
}

// ReplaceMemoryTags reconciles the stored tag set against tags: rows not
// in the new set are removed, new tags inserted, shared tags untouched.
func (r *PostgresRepository) ReplaceMemoryTags(ctx context.Context, id uuid.UUID, tags []string) error {
	tags = dedupeTags(tags)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning tag update: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM memory_tags WHERE memory_id = $1 AND NOT (tag = ANY($2))`,
		id, tags,
	); err != nil {
		return fmt.Errorf("removing stale tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memory_tags (memory_id, tag) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			id, tag,
		); err != nil {
			return fmt.Errorf("adding tag: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tag update: %w", err)
	}
	return nil
}

func (r *PostgresRepository) memoryTags(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tag FROM memory_tags WHERE memory_id = $1 ORDER BY tag ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("listing memory tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshaling memory metadata: %w", err)
	}
	return data, nil
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
