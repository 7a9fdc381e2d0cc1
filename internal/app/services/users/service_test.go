package users

import (
	"context"
	"errors"
	"testing"

	"github.com/storyloft/studio_layer/internal/app/storage/memory"
)

type recordingGrant struct {
	userIDs []string
}

func (g *recordingGrant) GrantSignup(_ context.Context, userID string) error {
	g.userIDs = append(g.userIDs, userID)
	return nil
}

func TestRegisterHashesPasswordAndAppliesGrant(t *testing.T) {
	svc := New(memory.New(), nil)
	grant := &recordingGrant{}
	svc.AttachSignupGrant(grant)

	created, err := svc.Register(context.Background(), "Alice@Example.com", "Alice", "correct-horse")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}
	if created.PasswordHash == "correct-horse" || created.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}
	if len(grant.userIDs) != 1 || grant.userIDs[0] != created.ID {
		t.Fatalf("expected one grant for %s, got %v", created.ID, grant.userIDs)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	svc := New(memory.New(), nil)

	if _, err := svc.Register(context.Background(), "not-an-email", "x", "longenough"); err == nil {
		t.Fatal("expected error for invalid email")
	}
	if _, err := svc.Register(context.Background(), "a@b.com", "x", "short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := New(memory.New(), nil)

	if _, err := svc.Register(context.Background(), "a@b.com", "first", "password1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(context.Background(), "A@B.com", "second", "password2"); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestAuthenticate(t *testing.T) {
	svc := New(memory.New(), nil)

	created, err := svc.Register(context.Background(), "a@b.com", "alice", "password1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := svc.Authenticate(context.Background(), "a@b.com", "password1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("expected user %s, got %s", created.ID, got.ID)
	}

	if _, err := svc.Authenticate(context.Background(), "a@b.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "nobody@b.com", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}
