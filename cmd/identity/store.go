package identity

import (
	"context"
	"time"
)

// User is a chat account as other users see it.
type User struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email,omitempty"`
	ProfilePic string     `json:"profilePic"`
	About      string     `json:"about"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Public returns u without fields reserved for the account owner.
func (u User) Public() User {
	u.Email = ""
	return u
}

// Member holds the display fields of a room member.
type Member struct {
	UserID     string     `json:"userId"`
	Username   string     `json:"username"`
	ProfilePic string     `json:"profilePic"`
	LastSeen   *time.Time `json:"lastSeen,omitempty"`
}

// Room is a 1:1 or group conversation with its members.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsGroup   bool      `json:"isGroup"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasMember reports whether userID belongs to r.
func (r Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// Profile is the identity record resolved for an authenticated request:
// the user plus every room they belong to, with member display fields.
type Profile struct {
	User  User   `json:"user"`
	Rooms []Room `json:"rooms"`
}

// Credentials is what login needs to check a password.
type Credentials struct {
	UserID       string
	PasswordHash string
}

// CreateUserInput describes a registration. The password arrives already hashed.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	ProfilePic   string
	Now          time.Time
}

// CreateRoomInput describes a new room. The creator is always a member.
type CreateRoomInput struct {
	CreatorID string
	MemberIDs []string
	Name      string
	Now       time.Time
}

// Store is the persistence boundary for users and rooms.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetCredentialsByEmail(ctx context.Context, email string) (Credentials, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error

	// GetProfile resolves a user, their rooms and the members of each room
	// in a single call. Missing users yield ErrNotFound.
	GetProfile(ctx context.Context, userID string) (Profile, error)

	// TouchLastSeen records the moment a user's realtime channel closed.
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error

	CreateRoom(ctx context.Context, in CreateRoomInput) (Room, error)

	// SetRefresh overwrites the stored refresh-token hash for userID.
	SetRefresh(ctx context.Context, userID, hash string, expiresAt time.Time) error

	// SwapRefresh replaces the stored hash with newHash only if it currently
	// equals oldHash. It reports whether the swap happened; a missing user
	// yields ErrNotFound.
	SwapRefresh(ctx context.Context, userID, oldHash, newHash string, expiresAt time.Time) (bool, error)
}

// roomMemberIDs returns creator + members, deduplicated, creator first.
func roomMemberIDs(in CreateRoomInput) []string {
	out := make([]string, 0, len(in.MemberIDs)+1)
	seen := make(map[string]struct{}, len(in.MemberIDs)+1)
	for _, id := range append([]string{in.CreatorID}, in.MemberIDs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// isGroupRoom reports whether a room with these members and name is a group.
func isGroupRoom(memberCount int, name string) bool {
	return name != "" || memberCount > 2
}
