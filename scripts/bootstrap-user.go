// bootstrap-user creates (or finds) a user and prints a session token for
// calling the API locally:
//
//	go run scripts/bootstrap-user.go -email dev@inkforge.local -credits 10
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkforge/inkforge/internal/auth"
	"github.com/inkforge/inkforge/internal/model"
	"github.com/inkforge/inkforge/internal/repository"
)

type output struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Credits   int       `json:"credits"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		authSecret  = flag.String("auth-secret", os.Getenv("AUTH_SECRET"), "Secret the API derives its session key from")
		email       = flag.String("email", "dev@inkforge.local", "User email")
		name        = flag.String("name", "", "Display name")
		credits     = flag.Int("credits", model.DefaultStartingCredits, "Starting credits for a new user")
		ttl         = flag.Duration("ttl", 24*time.Hour, "Session token lifetime")
		format      = flag.String("format", "plain", "Output format: plain or json")
	)
	flag.Parse()

	if *databaseURL == "" || *authSecret == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL and AUTH_SECRET are required")
		os.Exit(1)
	}
	if *credits < 1 {
		fmt.Fprintln(os.Stderr, "credits must be at least 1")
		os.Exit(1)
	}

	verifier, err := auth.NewSessionVerifier(*authSecret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "session verifier:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	user, err := repo.GetOrCreateUser(ctx, &model.User{
		ID:      uuid.NewString(),
		Email:   strings.ToLower(strings.TrimSpace(*email)),
		Name:    *name,
		Credits: *credits,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "get or create user:", err)
		os.Exit(1)
	}

	token, err := verifier.Issue(user, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issue session token:", err)
		os.Exit(1)
	}

	out := output{
		UserID:    user.ID,
		Email:     user.Email,
		Credits:   user.Credits,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(*ttl),
	}

	switch strings.ToLower(*format) {
	case "plain":
		fmt.Println(out.Token)
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}
