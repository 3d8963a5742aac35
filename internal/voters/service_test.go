package voters

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:voters_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct voters service: %v", err)
	}
	return service, db
}

func TestUpsertProfileRoundTrip(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if err := service.UpsertProfile(ctx, Profile{UserID: "user-1", Reputation: 750, IsExpert: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profile, err := service.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Reputation != 750 || !profile.IsExpert {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	// Reputation updates replace the stored value.
	if err := service.UpsertProfile(ctx, Profile{UserID: "user-1", Reputation: 1200, IsExpert: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, err = service.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Reputation != 1200 {
		t.Fatalf("reputation: got %d, want 1200", profile.Reputation)
	}
}

func TestGetProfileFailsOpen(t *testing.T) {
	service, _ := newTestService(t)

	profile, err := service.GetProfile(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.UserID != "stranger" || profile.Reputation != 0 || profile.IsExpert {
		t.Fatalf("expected zero profile, got %+v", profile)
	}
}

func TestUpsertProfileRejectsInvalidInput(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	err := service.UpsertProfile(ctx, Profile{UserID: "  "})
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile for blank id, got %v", err)
	}

	err = service.UpsertProfile(ctx, Profile{UserID: "user-1", Reputation: -5})
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile for negative reputation, got %v", err)
	}
}

func TestProfilesByUserIDSkipsUnknownVoters(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if err := service.UpsertProfile(ctx, Profile{UserID: "user-1", Reputation: 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.UpsertProfile(ctx, Profile{UserID: "user-2", Reputation: 600, IsExpert: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	profiles, err := ProfilesByUserID(db, []string{"user-1", "user-2", "ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if _, ok := profiles["ghost"]; ok {
		t.Fatalf("unknown voter must be absent from the result")
	}
	if !profiles["user-2"].IsExpert {
		t.Fatalf("expected user-2 to be an expert")
	}

	empty, err := ProfilesByUserID(db, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty result for no ids, got %d", len(empty))
	}
}
