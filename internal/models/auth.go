package models

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Premium  bool   `json:"premium"`
	Gender   string `json:"gender"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token   string `json:"token"`
	UserID  string `json:"user_id"`
	Premium bool   `json:"premium"`
}
