package repo

import "time"

// Settings is the persisted user override read by the resolver. A single row;
// empty fields mean "no override".
type Settings struct {
	BaseURL    string
	Credential string
	UpdatedAt  time.Time
}

// PairingAttempt is one issued pairing code, kept for diagnostics.
type PairingAttempt struct {
	ID        string
	Instance  string
	SessionID string
	Attempt   int
	IssuedAt  time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
}

// InstanceSnapshot is a cached canonical instance record for list views. The
// backend stays the sole authority: snapshots are replaced wholesale after
// every refresh and dropped after state-changing calls, never patched.
type InstanceSnapshot struct {
	Name           string
	GatewayID      string
	Status         string
	Phone          string
	ProfileName    string
	ProfilePicture string
	FetchedAt      time.Time
}
