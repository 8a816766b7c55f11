package storage

import "time"

// Entry is a credential received from the server and kept in the local
// wallet. The account itself is stored encrypted.
type Entry struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	Data        string    `json:"data"` // base64(nonce || ciphertext) of the account JSON
	GeneratedAt time.Time `json:"generatedAt"`
	// Recorded is false when the server could not store the generation.
	Recorded bool `json:"recorded"`
	Deleted  bool `json:"deleted,omitempty"`
}

// Account mirrors the credential record returned by the server.
type Account struct {
	Email          string `json:"email,omitempty"`
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	AdditionalData string `json:"additionalData,omitempty"`
	Raw            string `json:"raw,omitempty"`
}

// Generated is the answer of POST /api/generate.
type Generated struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	Account     Account   `json:"account"`
	GeneratedAt time.Time `json:"generatedAt"`
	Recorded    bool      `json:"recorded"`
}

// HistoryItem is one element of GET /api/history.
type HistoryItem struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Account   Account   `json:"account"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats is the answer of GET /api/stats.
type Stats struct {
	TotalGenerations  int64         `json:"totalGenerations"`
	FavoriteServices  []string      `json:"favoriteServices"`
	LastActivity      time.Time     `json:"lastActivity"`
	RecentGenerations []HistoryItem `json:"recentGenerations"`
}

// Service is a catalogue entry of GET /api/services.
type Service struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}
