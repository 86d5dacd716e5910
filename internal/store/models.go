package store

import "time"

// Agent is a named principal with an Ed25519 identity keypair.
type Agent struct {
	Name                string
	PublicKey           string
	OwnerEmail          *string
	Endpoint            *string
	EmailVerified       bool
	Status              string // pending | active | revoked
	LastSeen            *time.Time
	CreatedAt           time.Time
	ApprovedBy          *string
	ApprovedAt          *time.Time
	KeyUpdatedAt        *time.Time
	PendingPublicKey    *string
	RecoveryInitiatedAt *time.Time
}

const (
	AgentStatusPending = "pending"
	AgentStatusActive  = "active"
	AgentStatusRevoked = "revoked"
)

// Contact is a pair-keyed relationship row; AgentA is always lexicographically less than AgentB.
type Contact struct {
	AgentA      string
	AgentB      string
	Status      string // pending | active | denied | removed
	RequestedBy string
	Greeting    *string
	DenialCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	ContactStatusPending = "pending"
	ContactStatusActive  = "active"
	ContactStatusDenied  = "denied"
	ContactStatusRemoved = "removed"
)

// Block records that Blocker has blocked Blocked after repeated denials.
type Block struct {
	Blocker string
	Blocked string
}

// Verification is a per-agent pending email verification code.
type Verification struct {
	AgentName string
	Email     string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	Verified  bool
}

// Admin grants an agent authority to revoke other agents and sign broadcasts.
type Admin struct {
	Agent          string
	AdminPublicKey string
	AddedAt        time.Time
}

// Broadcast is an append-only, admin-signed log entry.
type Broadcast struct {
	ID        string
	Type      string
	Payload   string
	Sender    string
	Signature string
	CreatedAt time.Time
}

const (
	BroadcastSecurityAlert = "security-alert"
	BroadcastMaintenance   = "maintenance"
	BroadcastUpdate        = "update"
	BroadcastAnnouncement  = "announcement"
	BroadcastRevocation    = "revocation"
)

// Group is a named set of agents with a single owner.
type Group struct {
	ID               string
	Name             string
	Owner            string
	Status           string // active | dissolved
	MembersCanInvite bool
	MembersCanSend   bool
	MaxMembers       int
	CreatedAt        time.Time
	DissolvedAt      *time.Time
}

const (
	GroupStatusActive    = "active"
	GroupStatusDissolved = "dissolved"
)

// Membership is one agent's relationship to one group.
type Membership struct {
	GroupID   string
	Agent     string
	Role      string // owner | admin | member
	Status    string // pending | active | left | removed
	InvitedBy *string
	Greeting  *string
	JoinedAt  *time.Time
	LeftAt    *time.Time
	CreatedAt time.Time
}

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"

	MembershipPending = "pending"
	MembershipActive  = "active"
	MembershipLeft    = "left"
	MembershipRemoved = "removed"
)
