package main

import (
	"testing"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/middleware"
)

func TestUserFromToken(t *testing.T) {
	token, err := middleware.IssueToken("secret", middleware.JWTClaims{UserID: "user-42", Name: "Ada"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"signed token", token, "user-42"},
		{"empty", "", ""},
		{"garbage", "not-a-jwt", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := userFromToken(tt.token); got != tt.want {
				t.Errorf("userFromToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
