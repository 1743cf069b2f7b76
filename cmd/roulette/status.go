package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mossy-p/roulette-signaling/config"
	"github.com/mossy-p/roulette-signaling/internal/friends"
	"github.com/mossy-p/roulette-signaling/internal/models"
	"github.com/mossy-p/roulette-signaling/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and queue sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{ServerURL: flagServer})
		if err != nil {
			return err
		}
		status, err := fetchStatus(cmd.Context(), cfg.ServerURL)
		if err != nil {
			return err
		}
		fmt.Println(ui.StatusView(*status))
		return nil
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List your friends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{ServerURL: flagServer, Token: flagToken})
		if err != nil {
			return err
		}
		if cfg.Token == "" {
			return fmt.Errorf("a token is required, run roulette login first")
		}
		ids, err := friends.NewHTTPStore(cfg.ServerURL, cfg.Token).Friends(cmd.Context(), "")
		if err != nil {
			return err
		}
		fmt.Println(ui.FriendsView(models.FriendsResponse{UserID: userFromToken(cfg.Token), Friends: ids}))
		return nil
	},
}

func fetchStatus(ctx context.Context, serverURL string) (*models.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: %s", resp.Status)
	}
	var status models.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	return &status, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(friendsCmd)
}
