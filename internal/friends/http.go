package friends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/models"
)

// HTTPStore talks to the signaling server's friends API. The server
// takes the requesting user from the bearer token, so the userID
// arguments only matter to in-process stores.
type HTTPStore struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPStore creates a client for the API rooted at baseURL
// (for example "http://localhost:8080").
func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPStore) AddFriend(ctx context.Context, userID, partnerUserID string) (models.Friendship, error) {
	if err := validatePair(userID, partnerUserID); err != nil {
		return models.Friendship{}, err
	}
	body, err := json.Marshal(models.AddFriendRequest{PartnerUserID: partnerUserID})
	if err != nil {
		return models.Friendship{}, err
	}

	req, err := s.newRequest(ctx, http.MethodPost, bytes.NewReader(body))
	if err != nil {
		return models.Friendship{}, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return models.Friendship{}, fmt.Errorf("add friend: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var out models.AddFriendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return models.Friendship{}, fmt.Errorf("decode friendship: %w", err)
		}
		if !out.Created {
			return out.Friendship, ErrAlreadyFriends
		}
		return out.Friendship, nil
	case http.StatusConflict:
		return models.Friendship{}, ErrFriendLimit
	default:
		return models.Friendship{}, fmt.Errorf("add friend: unexpected status %s", resp.Status)
	}
}

func (s *HTTPStore) Friends(ctx context.Context, _ string) ([]string, error) {
	req, err := s.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list friends: unexpected status %s", resp.Status)
	}
	var out models.FriendsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode friends: %w", err)
	}
	return out.Friends, nil
}

func (s *HTTPStore) newRequest(ctx context.Context, method string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, s.BaseURL+"/api/friends", body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, s.BaseURL+"/api/friends", nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	return req, nil
}
