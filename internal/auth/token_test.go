package auth

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatty/internal/model"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	s := NewTokenService("secret", time.Hour)

	user := model.UserDetails{ID: "U1", Username: "brave_otter", DisplayName: "brave otter"}
	token, err := s.Issue(user)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "U1" || claims.Username != "brave_otter" {
		t.Errorf("claims = %+v, want U1/brave_otter", claims)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	s := NewTokenService("secret", time.Hour)
	other := NewTokenService("other-secret", time.Hour)

	good, _ := s.Issue(model.UserDetails{ID: "U1", Username: "u"})
	forged, _ := other.Issue(model.UserDetails{ID: "U1", Username: "u"})

	expiring := NewTokenService("secret", -time.Minute)
	expired, _ := expiring.Issue(model.UserDetails{ID: "U1", Username: "u"})

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong key", forged},
		{"expired", expired},
		{"truncated", good[:len(good)-5]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify(%s) error = %v, want ErrInvalidToken", tt.name, err)
			}
		})
	}
}

func TestGeneratedNames(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		username := GenerateUsername(r)
		parts := strings.Split(username, "_")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			t.Fatalf("username %q not adjective_animal shaped", username)
		}
		if got := DisplayNameFor(username); got != parts[0]+" "+parts[1] {
			t.Errorf("display name = %q, want spaced", got)
		}
	}
}

type memoryDirectory struct {
	byID    map[string]model.UserDetails
	taken   map[string]bool
	rejects int
}

func (d *memoryDirectory) CreateUser(ctx context.Context, user model.UserDetails) error {
	if d.taken[user.Username] {
		d.rejects++
		return ErrUsernameTaken
	}
	d.taken[user.Username] = true
	d.byID[user.ID] = user
	return nil
}

func (d *memoryDirectory) FindByID(ctx context.Context, id string) (model.UserDetails, error) {
	u, ok := d.byID[id]
	if !ok {
		return model.UserDetails{}, errors.New("not found")
	}
	return u, nil
}

func newDirectory() *memoryDirectory {
	return &memoryDirectory{byID: map[string]model.UserDetails{}, taken: map[string]bool{}}
}

func TestBootstrapCreatesAnonymousAccount(t *testing.T) {
	dir := newDirectory()
	b := NewBootstrap(dir, NewTokenService("secret", time.Hour), nil)

	user, token, err := b.Login(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if user.ID == "" || user.Username == "" || token == "" {
		t.Fatalf("incomplete login result: %+v / %q", user, token)
	}

	// Presenting the issued token keeps the same identity.
	again, sameToken, err := b.Login(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != user.ID {
		t.Errorf("second login id = %s, want %s", again.ID, user.ID)
	}
	if sameToken != token {
		t.Error("valid token should be kept as-is")
	}
}

func TestBootstrapInvalidTokenGetsFreshAccount(t *testing.T) {
	dir := newDirectory()
	b := NewBootstrap(dir, NewTokenService("secret", time.Hour), nil)

	user, token, err := b.Login(context.Background(), "garbage-token")
	if err != nil {
		t.Fatal(err)
	}
	if user.ID == "" || token == "garbage-token" {
		t.Errorf("invalid token should yield a new account and token")
	}
}
