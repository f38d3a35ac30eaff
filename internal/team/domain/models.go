// Package domain contains team and membership models. A team rides on a
// seat-based subscription account; membership changes keep the account's
// occupied seat count in step.
package domain

import (
	"errors"
	"time"
)

// Role orders team permissions. Owner is unique per team.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// MemberStatus is the lifecycle of one membership. Only active members
// occupy a seat.
type MemberStatus string

const (
	MemberInvited   MemberStatus = "invited"
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
)

// Team groups members under one subscription account.
type Team struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	AccountID   int64     `gorm:"not null;uniqueIndex;column:account_id" json:"account_id,string"`
	OwnerUserID string    `gorm:"type:text;not null;column:owner_user_id" json:"owner_user_id"`
	Name        string    `gorm:"type:text;not null" json:"name"`
	Slug        string    `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Team) TableName() string { return "teams" }

// Member is one person's place on a team. UserID is empty until the invite
// is accepted.
type Member struct {
	ID        int64        `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	TeamID    int64        `gorm:"not null;index;uniqueIndex:idx_team_email,priority:1;column:team_id" json:"team_id,string"`
	UserID    string       `gorm:"type:text;index;column:user_id" json:"user_id,omitempty"`
	Email     string       `gorm:"type:text;not null;uniqueIndex:idx_team_email,priority:2" json:"email"`
	Role      Role         `gorm:"type:text;not null;default:'member'" json:"role"`
	Status    MemberStatus `gorm:"type:text;not null;default:'invited'" json:"status"`
	InvitedAt time.Time    `gorm:"not null;column:invited_at" json:"invited_at"`
	JoinedAt  *time.Time   `gorm:"column:joined_at" json:"joined_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "team_members" }

// Occupied reports whether the membership holds a seat.
func (m *Member) Occupied() bool { return m.Status == MemberActive }

var (
	ErrTeamNotFound   = errors.New("team_not_found")
	ErrMemberNotFound = errors.New("member_not_found")
	ErrAlreadyMember  = errors.New("already_a_member")
	ErrForbidden      = errors.New("forbidden")
	ErrOwnerImmutable = errors.New("owner_membership_immutable")
	ErrInvalidRole    = errors.New("invalid_role")
	ErrInvalidStatus  = errors.New("invalid_member_status")
)
