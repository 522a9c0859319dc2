package domain

// Role defines the role of a state store user
type Role string

const (
	// RoleOwner marks the single user whose aggregator tokens are tracked
	RoleOwner Role = "owner"
)

// Owner is the state store user that carries the aggregator tokens
type Owner struct {
	ID           string `json:"id"`
	Role         Role   `json:"role"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
	ClientID     string `json:"client_id,omitempty"`
}

// OwnerTokens is the subset of the owner record rewritten after every exchange
type OwnerTokens struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
}
