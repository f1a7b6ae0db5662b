package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

// Postgres is the remote-durable relational backend. Settings, prize
// pool, participants and result travel as JSONB columns; filterable
// fields are first-class columns.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Save(ctx context.Context, b *domain.Battle) error {
	if b == nil || b.ID == "" {
		return backendErr("postgres", "save", "", errf("nil or unidentified battle"))
	}
	settings, err := json.Marshal(b.Settings)
	if err != nil {
		return backendErr("postgres", "save", b.ID, fmt.Errorf("marshal settings: %w", err))
	}
	participants, err := json.Marshal(b.Participants)
	if err != nil {
		return backendErr("postgres", "save", b.ID, fmt.Errorf("marshal participants: %w", err))
	}
	prizePool, err := json.Marshal(b.PrizePool)
	if err != nil {
		return backendErr("postgres", "save", b.ID, fmt.Errorf("marshal prize_pool: %w", err))
	}
	var result []byte
	if b.Result != nil {
		if result, err = json.Marshal(b.Result); err != nil {
			return backendErr("postgres", "save", b.ID, fmt.Errorf("marshal result: %w", err))
		}
	}

	const q = `
		INSERT INTO battles (
			battle_id, battle_type, status, creator_id,
			start_time, end_time, settings, participants,
			max_participants, min_participants, entry_fee, prize_pool,
			result, created_at, updated_at, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8::jsonb,$9,$10,$11,$12::jsonb,$13,$14,$15,$16)
		ON CONFLICT (battle_id) DO UPDATE SET
			battle_type = EXCLUDED.battle_type,
			status = EXCLUDED.status,
			creator_id = EXCLUDED.creator_id,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			settings = EXCLUDED.settings,
			participants = EXCLUDED.participants,
			max_participants = EXCLUDED.max_participants,
			min_participants = EXCLUDED.min_participants,
			entry_fee = EXCLUDED.entry_fee,
			prize_pool = EXCLUDED.prize_pool,
			result = EXCLUDED.result,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`

	_, err = p.db.ExecContext(ctx, q,
		b.ID, string(b.Type), string(b.Status), b.CreatorID,
		b.StartTime, b.EndTime, settings, participants,
		b.MaxParticipants, b.MinParticipants, b.EntryFee, prizePool,
		nullableJSON(result), b.CreatedAt, b.UpdatedAt, b.CompletedAt,
	)
	if err != nil {
		return backendErr("postgres", "save", b.ID, err)
	}
	return nil
}

const selectColumns = `
	battle_id, battle_type, status, creator_id,
	start_time, end_time, settings, participants,
	max_participants, min_participants, entry_fee, prize_pool,
	result, created_at, updated_at, completed_at`

func (p *Postgres) Load(ctx context.Context, id string) (*domain.Battle, error) {
	q := `SELECT` + selectColumns + ` FROM battles WHERE battle_id = $1`
	b, err := scanBattle(p.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr("postgres", "load", id, err)
	}
	return b, nil
}

func (p *Postgres) LoadMany(ctx context.Context, f Filter) ([]*domain.Battle, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Type != "" {
		conds = append(conds, "battle_type = "+arg(string(f.Type)))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(string(f.Status)))
	}
	if f.CreatorID != "" {
		conds = append(conds, "creator_id = "+arg(f.CreatorID))
	}
	if f.UserID != "" {
		// participant membership via JSONB containment on user_id
		conds = append(conds, "participants @> "+arg(fmt.Sprintf(`[{"user_id":%q}]`, f.UserID)))
	}
	if !f.From.IsZero() {
		conds = append(conds, "start_time >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "start_time <= "+arg(f.To))
	}

	q := `SELECT` + selectColumns + ` FROM battles`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY start_time DESC, battle_id ASC"

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, backendErr("postgres", "load_many", "", err)
	}
	defer rows.Close()

	out := []*domain.Battle{}
	for rows.Next() {
		b, serr := scanBattle(rows)
		if serr != nil {
			return nil, backendErr("postgres", "load_many", "", serr)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("postgres", "load_many", "", err)
	}
	return out, nil
}

func (p *Postgres) Update(ctx context.Context, id string, patch Patch) (*domain.Battle, error) {
	b, err := p.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	patch.Apply(b)
	if err := p.Save(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM battles WHERE battle_id = $1`, id)
	if err != nil {
		return backendErr("postgres", "delete", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBattle(row rowScanner) (*domain.Battle, error) {
	var (
		b            domain.Battle
		btype        string
		status       string
		settingsJSON []byte
		partsJSON    []byte
		prizeJSON    []byte
		resultJSON   []byte
		completedAt  sql.NullTime
	)
	err := row.Scan(
		&b.ID, &btype, &status, &b.CreatorID,
		&b.StartTime, &b.EndTime, &settingsJSON, &partsJSON,
		&b.MaxParticipants, &b.MinParticipants, &b.EntryFee, &prizeJSON,
		&resultJSON, &b.CreatedAt, &b.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Type = domain.BattleType(btype)
	b.Status = domain.BattleStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	if err := json.Unmarshal(settingsJSON, &b.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if len(partsJSON) > 0 {
		if err := json.Unmarshal(partsJSON, &b.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	if len(prizeJSON) > 0 {
		if err := json.Unmarshal(prizeJSON, &b.PrizePool); err != nil {
			return nil, fmt.Errorf("unmarshal prize_pool: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		var r domain.BattleResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		b.Result = &r
	}
	return &b, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
