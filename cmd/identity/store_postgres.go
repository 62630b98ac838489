package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity/ids"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/token"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; the store never closes it.
// Schema identifiers are quoted with pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the schema created by the bundled migrations.
const DefaultSchema = "chat"

// WithSchema sets the Postgres schema (default DefaultSchema).
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) tbl(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := validateNewUser(op, in); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:         id,
		Username:   strings.TrimSpace(in.Username),
		Email:      strings.TrimSpace(in.Email),
		ProfilePic: strings.TrimSpace(in.ProfilePic),
		CreatedAt:  now,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.tbl("users")+` (
		     id, username, username_norm, email, email_norm, password_hash, profile_pic, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		u.ID, u.Username, NormalizeUsername(u.Username), u.Email, NormalizeEmail(u.Email),
		in.PasswordHash, u.ProfilePic, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

const userColumns = `id, username, email, profile_pic, about, last_seen, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.ProfilePic, &u.About, &u.LastSeen, &u.CreatedAt)
	return u, err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	const op = "identity.GetUser"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.tbl("users")+` WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) GetCredentialsByEmail(ctx context.Context, email string) (Credentials, error) {
	const op = "identity.GetCredentialsByEmail"

	var c Credentials
	err := s.pool.QueryRow(ctx,
		`SELECT id, password_hash FROM `+s.tbl("users")+` WHERE email_norm = $1`,
		NormalizeEmail(email),
	).Scan(&c.UserID, &c.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credentials{}, NotFoundError{Op: op, Resource: "user"}
		}
		return Credentials{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if strings.TrimSpace(hash) == "" {
		return invalid(op, "empty hash")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tbl("users")+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		userID, hash, pgNow(now),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// GetProfile reads the user and their rooms inside one read-only
// transaction so the two queries see the same snapshot.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	const op = "identity.GetProfile"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.tbl("users")+` WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, NotFoundError{Op: op, Resource: "user"}
		}
		return Profile{}, fmt.Errorf("%s: user: %w", op, err)
	}

	rows, err := tx.Query(ctx,
		`SELECT r.id, r.name, r.is_group, r.created_at,
		        u.id, u.username, u.profile_pic, u.last_seen
		   FROM `+s.tbl("room_members")+` mine
		   JOIN `+s.tbl("rooms")+` r ON r.id = mine.room_id
		   JOIN `+s.tbl("room_members")+` rm ON rm.room_id = r.id
		   JOIN `+s.tbl("users")+` u ON u.id = rm.user_id
		  WHERE mine.user_id = $1
		  ORDER BY r.id, rm.joined_at, u.id`,
		userID,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: rooms: %w", op, err)
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		var (
			r Room
			m Member
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.IsGroup, &r.CreatedAt,
			&m.UserID, &m.Username, &m.ProfilePic, &m.LastSeen); err != nil {
			return Profile{}, fmt.Errorf("%s: scan: %w", op, err)
		}
		if n := len(rooms); n == 0 || rooms[n-1].ID != r.ID {
			r.Members = make([]Member, 0, 2)
			rooms = append(rooms, r)
		}
		last := &rooms[len(rooms)-1]
		last.Members = append(last.Members, m)
	}
	if err := rows.Err(); err != nil {
		return Profile{}, fmt.Errorf("%s: rows: %w", op, err)
	}

	return Profile{User: u, Rooms: rooms}, nil
}

func (s *PostgresStore) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	const op = "identity.TouchLastSeen"

	// GREATEST keeps last_seen monotonic when closes are written out of order.
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tbl("users")+`
		    SET last_seen = GREATEST(COALESCE(last_seen, $2), $2)
		  WHERE id = $1`,
		userID, pgNow(at),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) CreateRoom(ctx context.Context, in CreateRoomInput) (Room, error) {
	const op = "identity.CreateRoom"

	members := roomMemberIDs(in)
	if in.CreatorID == "" || len(members) < 2 {
		return Room{}, invalid(op, "a room needs the creator and at least one other member")
	}

	now := pgNow(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Room{}, err
	}
	name := strings.TrimSpace(in.Name)
	isGroup := isGroupRoom(len(members), name)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Room{}, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.tbl("rooms")+` (id, name, is_group, created_at) VALUES ($1, $2, $3, $4)`,
		id, name, isGroup, now,
	); err != nil {
		return Room{}, fmt.Errorf("%s: insert room: %w", op, err)
	}

	batch := &pgx.Batch{}
	for i, uid := range members {
		// Stagger joined_at so member order is stable.
		batch.Queue(
			`INSERT INTO `+s.tbl("room_members")+` (room_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			id, uid, now.Add(time.Duration(i)*time.Microsecond),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if pgIsForeignKeyViolation(err) {
			return Room{}, NotFoundError{Op: op, Resource: "user"}
		}
		return Room{}, fmt.Errorf("%s: insert members: %w", op, err)
	}

	out := Room{ID: id, Name: name, IsGroup: isGroup, CreatedAt: now, Members: make([]Member, 0, len(members))}
	rows, err := tx.Query(ctx,
		`SELECT u.id, u.username, u.profile_pic, u.last_seen
		   FROM `+s.tbl("room_members")+` rm
		   JOIN `+s.tbl("users")+` u ON u.id = rm.user_id
		  WHERE rm.room_id = $1
		  ORDER BY rm.joined_at`,
		id,
	)
	if err != nil {
		return Room{}, fmt.Errorf("%s: members: %w", op, err)
	}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Username, &m.ProfilePic, &m.LastSeen); err != nil {
			rows.Close()
			return Room{}, fmt.Errorf("%s: scan: %w", op, err)
		}
		out.Members = append(out.Members, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Room{}, fmt.Errorf("%s: rows: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Room{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) SetRefresh(ctx context.Context, userID, hash string, expiresAt time.Time) error {
	const op = "identity.SetRefresh"

	if len(hash) != token.HexLen {
		return invalid(op, "refresh hash must be 64 hex chars")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tbl("users")+`
		    SET refresh_token_hash = $2, refresh_expires_at = $3, updated_at = now()
		  WHERE id = $1`,
		userID, hash, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// SwapRefresh is a single conditional UPDATE. Two concurrent callers with the
// same oldHash serialize on the row lock; the second re-evaluates the WHERE
// clause against the new hash and affects zero rows.
func (s *PostgresStore) SwapRefresh(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	const op = "identity.SwapRefresh"

	if len(newHash) != token.HexLen {
		return false, invalid(op, "refresh hash must be 64 hex chars")
	}
	if len(oldHash) != token.HexLen {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tbl("users")+`
		    SET refresh_token_hash = $3, refresh_expires_at = $4, updated_at = now()
		  WHERE id = $1 AND refresh_token_hash = $2`,
		userID, oldHash, newHash, expiresAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.tbl("users")+` WHERE id = $1)`, userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: exists: %w", op, err)
	}
	if !exists {
		return false, NotFoundError{Op: op, Resource: "user"}
	}
	return false, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ---- helpers ----

func pgNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_username_norm", strings.Contains(c, "username"):
		return "username", true
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}

var _ Store = (*PostgresStore)(nil)
