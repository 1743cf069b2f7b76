package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mossy-p/roulette-signaling/config"
	"github.com/mossy-p/roulette-signaling/internal/models"
	"github.com/mossy-p/roulette-signaling/internal/ui"
)

var (
	flagUsername string
	flagPassword string
	flagName     string
	flagGender   string
	flagPremium  bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Get a token for calls and friends",
	Long: `Log in and print a token. Export it as ROULETTE_TOKEN or pass it with --token.

Examples:
  roulette login --username alex --password secret
  roulette login --username sam --password secret --premium --gender female`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{ServerURL: flagServer})
		if err != nil {
			return err
		}
		resp, err := login(cmd.Context(), cfg.ServerURL, models.LoginRequest{
			Username: flagUsername,
			Password: flagPassword,
			Name:     flagName,
			Premium:  flagPremium,
			Gender:   flagGender,
		})
		if err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("Logged in as %s", ui.BoldStyle.Render(resp.UserID)))
		fmt.Println(resp.Token)
		return nil
	},
}

func login(ctx context.Context, serverURL string, req models.LoginRequest) (*models.LoginResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("login: %s: %s", resp.Status, e.Error)
	}
	var out models.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("login: decode response: %w", err)
	}
	return &out, nil
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&flagUsername, "username", "u", "", "Username")
	loginCmd.Flags().StringVarP(&flagPassword, "password", "p", "", "Password")
	loginCmd.Flags().StringVar(&flagName, "name", "", "Display name (defaults to username)")
	loginCmd.Flags().StringVar(&flagGender, "gender", "", "male or female")
	loginCmd.Flags().BoolVar(&flagPremium, "premium", false, "Premium account")
	_ = loginCmd.MarkFlagRequired("username")
	_ = loginCmd.MarkFlagRequired("password")
}
