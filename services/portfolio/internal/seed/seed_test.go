package seed

import (
	"context"
	"testing"
	"time"

	"inkfolio/pkg/domain"
	"inkfolio/pkg/identity"
	"inkfolio/pkg/store"
)

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	sessions, err := store.NewEphemeralJWTSessionStore(time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	provider := identity.NewLocal(mem, sessions)
	opts := Options{Password: "password123", SampleContent: true}

	first, err := Run(ctx, mem, provider, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.AccountCreated || first.ItemsCreated != 4 {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if first.Admin.Email != DefaultEmail || first.Admin.Role != domain.RoleAdmin || first.Admin.Name != DefaultName {
		t.Fatalf("unexpected admin profile: %+v", first.Admin)
	}

	second, err := Run(ctx, mem, provider, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.AccountCreated || second.ItemsCreated != 0 || second.Admin.ID != first.Admin.ID {
		t.Fatalf("second run should change nothing: %+v", second)
	}

	items, err := mem.ListContent(ctx, domain.ContentFilter{Status: domain.StatusAll})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 4 || items[0].Title != "The Silent Forest" || items[3].Title != "Studio Light" {
		t.Fatalf("unexpected samples: %d items", len(items))
	}
	for _, item := range items {
		if item.CreatedBy != first.Admin.ID {
			t.Fatalf("sample %q not attributed to admin", item.Title)
		}
	}

	if _, _, err := provider.SignIn(ctx, DefaultEmail, "password123"); err != nil {
		t.Fatalf("seeded admin cannot sign in: %v", err)
	}
}

func TestRunRequiresPassword(t *testing.T) {
	mem := store.NewMemoryStore()
	sessions, err := store.NewEphemeralJWTSessionStore(time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	if _, err := Run(context.Background(), mem, identity.NewLocal(mem, sessions), Options{}); err == nil {
		t.Fatalf("expected error without password")
	}
}
