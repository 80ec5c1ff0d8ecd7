package utils

import (
	"errors"
	"testing"

	"github.com/pledgehub/pledgehub/internal/middleware"
	"github.com/pledgehub/pledgehub/internal/types"
)

func TestGetCurrentUser(t *testing.T) {
	ctx := newContext("/", nil)
	ctx.Set(types.ContextUserKey, middleware.AuthenticatedUser{ID: 7, ExternalID: "idp|ada"})

	user, err := GetCurrentUser(ctx)
	if err != nil || user.ID != 7 {
		t.Fatalf("Expected user 7, got %+v (%v)", user, err)
	}

	id, err := GetCurrentUserID(ctx)
	if err != nil || id != 7 {
		t.Errorf("Expected id 7, got %d (%v)", id, err)
	}
}

func TestGetCurrentUserMissing(t *testing.T) {
	missing := newContext("/", nil)

	wrongType := newContext("/", nil)
	wrongType.Set(types.ContextUserKey, "idp|ada")

	if _, err := GetCurrentUser(missing); !errors.Is(err, ErrNoUser) {
		t.Errorf("Expected ErrNoUser without a user, got %v", err)
	}
	if _, err := GetCurrentUserID(wrongType); !errors.Is(err, ErrNoUser) {
		t.Errorf("Expected ErrNoUser for a foreign value, got %v", err)
	}
}
