package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity/ids"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/security/token"
)

type memUser struct {
	user         User
	passwordHash string

	refreshHash      string
	refreshExpiresAt time.Time
}

type memRoom struct {
	id        string
	name      string
	isGroup   bool
	members   []string
	createdAt time.Time
}

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu sync.RWMutex

	users      map[string]*memUser
	byEmail    map[string]string
	byUsername map[string]string

	rooms       map[string]*memRoom
	roomsByUser map[string][]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*memUser),
		byEmail:     make(map[string]string),
		byUsername:  make(map[string]string),
		rooms:       make(map[string]*memRoom),
		roomsByUser: make(map[string][]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
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

	emailNorm := NormalizeEmail(in.Email)
	usernameNorm := NormalizeUsername(in.Username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[usernameNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "username"}
	}
	if _, ok := s.byEmail[emailNorm]; ok {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{
		ID:         id,
		Username:   strings.TrimSpace(in.Username),
		Email:      strings.TrimSpace(in.Email),
		ProfilePic: strings.TrimSpace(in.ProfilePic),
		CreatedAt:  now,
	}
	s.users[id] = &memUser{user: u, passwordHash: in.PasswordHash}
	s.byEmail[emailNorm] = id
	s.byUsername[usernameNorm] = id

	return u, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUser", Resource: "user"}
	}
	return copyUser(rec.user), nil
}

func (s *MemoryStore) GetCredentialsByEmail(ctx context.Context, email string) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return Credentials{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Credentials{}, NotFoundError{Op: "identity.GetCredentialsByEmail", Resource: "user"}
	}
	return Credentials{UserID: id, PasswordHash: s.users[id].passwordHash}, nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, hash string, _ time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "empty hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	rec.passwordHash = hash
	return nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return Profile{}, NotFoundError{Op: "identity.GetProfile", Resource: "user"}
	}

	roomIDs := s.roomsByUser[userID]
	rooms := make([]Room, 0, len(roomIDs))
	for _, rid := range roomIDs {
		rooms = append(rooms, s.roomLocked(s.rooms[rid]))
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })

	return Profile{User: copyUser(rec.user), Rooms: rooms}, nil
}

func (s *MemoryStore) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: "identity.TouchLastSeen", Resource: "user"}
	}
	t := at.UTC()
	// Last-seen never moves backwards.
	if rec.user.LastSeen == nil || t.After(*rec.user.LastSeen) {
		rec.user.LastSeen = &t
	}
	return nil
}

func (s *MemoryStore) CreateRoom(ctx context.Context, in CreateRoomInput) (Room, error) {
	const op = "identity.CreateRoom"

	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	members := roomMemberIDs(in)
	if in.CreatorID == "" || len(members) < 2 {
		return Room{}, invalid(op, "a room needs the creator and at least one other member")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Room{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, uid := range members {
		if _, ok := s.users[uid]; !ok {
			return Room{}, NotFoundError{Op: op, Resource: "user"}
		}
	}

	name := strings.TrimSpace(in.Name)
	r := &memRoom{
		id:        id,
		name:      name,
		isGroup:   isGroupRoom(len(members), name),
		members:   members,
		createdAt: now,
	}
	s.rooms[id] = r
	for _, uid := range members {
		s.roomsByUser[uid] = append(s.roomsByUser[uid], id)
	}
	return s.roomLocked(r), nil
}

func (s *MemoryStore) SetRefresh(ctx context.Context, userID, hash string, expiresAt time.Time) error {
	const op = "identity.SetRefresh"

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(hash) != token.HexLen {
		return invalid(op, "refresh hash must be 64 hex chars")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	rec.refreshHash = hash
	rec.refreshExpiresAt = expiresAt
	return nil
}

func (s *MemoryStore) SwapRefresh(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error) {
	const op = "identity.SwapRefresh"

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(newHash) != token.HexLen {
		return false, invalid(op, "refresh hash must be 64 hex chars")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return false, NotFoundError{Op: op, Resource: "user"}
	}
	if !token.Equal(rec.refreshHash, oldHash) {
		return false, nil
	}
	rec.refreshHash = newHash
	rec.refreshExpiresAt = expiresAt
	return true, nil
}

// roomLocked materializes r with current member display fields.
// Caller holds s.mu.
func (s *MemoryStore) roomLocked(r *memRoom) Room {
	out := Room{
		ID:        r.id,
		Name:      r.name,
		IsGroup:   r.isGroup,
		Members:   make([]Member, 0, len(r.members)),
		CreatedAt: r.createdAt,
	}
	for _, uid := range r.members {
		rec, ok := s.users[uid]
		if !ok {
			continue
		}
		u := copyUser(rec.user)
		out.Members = append(out.Members, Member{
			UserID:     u.ID,
			Username:   u.Username,
			ProfilePic: u.ProfilePic,
			LastSeen:   u.LastSeen,
		})
	}
	return out
}

func copyUser(u User) User {
	if u.LastSeen != nil {
		t := *u.LastSeen
		u.LastSeen = &t
	}
	return u
}

var _ Store = (*MemoryStore)(nil)
