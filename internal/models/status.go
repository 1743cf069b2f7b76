package models

import "time"

// Status is the body of GET /status
type Status struct {
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	Uptime      string        `json:"uptime"`
	UptimeNanos time.Duration `json:"uptimeNanos"`
	Connections int           `json:"connections"`
	Queued      int           `json:"queued"`
	Pairs       int           `json:"pairs"`
	Redis       string        `json:"redis,omitempty"`
}

// Friendship links two user ids. A is always the lexically smaller id.
type Friendship struct {
	A         string    `json:"a" msgpack:"a"`
	B         string    `json:"b" msgpack:"b"`
	CreatedAt time.Time `json:"createdAt" msgpack:"created_at"`
}

// AddFriendRequest is the body of POST /api/friends
type AddFriendRequest struct {
	PartnerUserID string `json:"partnerUserId" binding:"required"`
}

// AddFriendResponse reports whether the friendship was newly created
type AddFriendResponse struct {
	Friendship Friendship `json:"friendship"`
	Created    bool       `json:"created"`
}

// FriendsResponse is the body of GET /api/friends
type FriendsResponse struct {
	UserID  string   `json:"userId"`
	Friends []string `json:"friends"`
}
