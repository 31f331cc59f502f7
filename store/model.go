package store

// AccessRecord is the stored form of an issued access token. The token
// value itself is never persisted; TokenHash is the SHA-256 of the value.
type AccessRecord struct {
	UserID    string
	TokenID   string
	TokenHash [32]byte
	IssuedAt  int64
	ExpiresAt int64
}

// RefreshRecord is the stored form of an issued refresh token, keyed and
// indexed by TokenHash.
type RefreshRecord struct {
	UserID     string
	TokenHash  [32]byte
	DeviceInfo string
	IPAddress  string
	IssuedAt   int64
	ExpiresAt  int64
}
