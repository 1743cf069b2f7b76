package friends

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mossy-p/roulette-signaling/internal/models"
)

func TestHTTPStore_AddFriend(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		created bool
		wantErr error
	}{
		{name: "created", status: http.StatusCreated, created: true},
		{name: "existing", status: http.StatusOK, wantErr: ErrAlreadyFriends},
		{name: "limit", status: http.StatusConflict, wantErr: ErrFriendLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/api/friends" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer tok" {
					t.Errorf("Authorization = %q", got)
				}
				var req models.AddFriendRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PartnerUserID != "bob" {
					t.Errorf("body = %+v, err = %v", req, err)
				}
				w.WriteHeader(tt.status)
				if tt.status == http.StatusConflict {
					json.NewEncoder(w).Encode(map[string]string{"error": "friend limit reached"})
					return
				}
				json.NewEncoder(w).Encode(models.AddFriendResponse{
					Friendship: models.Friendship{A: "alice", B: "bob"},
					Created:    tt.created,
				})
			}))
			defer srv.Close()

			store := NewHTTPStore(srv.URL+"/", "tok")
			f, err := store.AddFriend(context.Background(), "alice", "bob")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.status != http.StatusConflict && (f.A != "alice" || f.B != "bob") {
				t.Errorf("friendship = %+v", f)
			}
		})
	}
}

func TestHTTPStore_Friends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		json.NewEncoder(w).Encode(models.FriendsResponse{UserID: "alice", Friends: []string{"bob", "carol"}})
	}))
	defer srv.Close()

	ids, err := NewHTTPStore(srv.URL, "tok").Friends(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[1] != "carol" {
		t.Errorf("friends = %v", ids)
	}
}

func TestHTTPStore_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPStore(srv.URL, "").AddFriend(context.Background(), "a", "b")
	if err == nil || errors.Is(err, ErrAlreadyFriends) || errors.Is(err, ErrFriendLimit) {
		t.Fatalf("err = %v, want a plain error", err)
	}
}
