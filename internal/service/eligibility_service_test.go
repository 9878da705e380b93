package service

import (
	"context"
	"errors"
	"testing"

	"github.com/keyrelay/internal/models"
)

func TestEligibilityServiceEvaluate(t *testing.T) {
	f := newAutomationFixture(t, "eligibility_evaluate")
	ctx := context.Background()
	eligibility := NewEligibilityService(f.ledger, f.settings)

	order := f.seedOrder(t, 0, nil,
		models.OrderItem{ProductID: 1},
		models.OrderItem{ProductID: 9, VariationID: 12},
		models.OrderItem{ProductID: 5},
	)

	decision, err := eligibility.Evaluate(ctx, order)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if decision.Eligible || decision.Reason != EligibilityReasonNoEnabledProduct {
		t.Fatalf("expected no enabled product by default, got %+v", decision)
	}

	f.enableAutomation(t, []uint{5, 12}, []uint{12})
	decision, err = eligibility.Evaluate(ctx, order)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !decision.Eligible || len(decision.ProductIDs) != 2 || decision.ProductIDs[0] != 12 || decision.ProductIDs[1] != 5 {
		t.Fatalf("expected variation 12 then product 5, got %+v", decision)
	}
	if !decision.Setting.IsGroupProduct(12) || decision.Setting.IsGroupProduct(5) {
		t.Fatalf("unexpected group flags: %+v", decision.Setting)
	}

	f.seedRunning(t, order.ID, "P1", "CODE", "", "")
	ok, err := eligibility.IsEligible(ctx, order)
	if err != nil || ok {
		t.Fatalf("attempted order must not be eligible, ok=%v err=%v", ok, err)
	}
	decision, _ = eligibility.Evaluate(ctx, order)
	if decision.Reason != EligibilityReasonAlreadyAttempted {
		t.Fatalf("expected already attempted, got %+v", decision)
	}

	if decision, _ := eligibility.Evaluate(ctx, nil); decision.Eligible || decision.Reason != EligibilityReasonEmptyOrder {
		t.Fatalf("nil order must be rejected, got %+v", decision)
	}
}

func TestEligibilityServiceReadsSettingsEveryCall(t *testing.T) {
	f := newAutomationFixture(t, "eligibility_live_settings")
	ctx := context.Background()
	eligibility := NewEligibilityService(f.ledger, f.settings)
	order := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 3})

	f.enableAutomation(t, []uint{3}, nil)
	products, err := eligibility.EligibleProducts(ctx, order)
	if err != nil || len(products) != 1 {
		t.Fatalf("expected product 3 eligible, products=%v err=%v", products, err)
	}

	f.enableAutomation(t, nil, nil)
	products, err = eligibility.EligibleProducts(ctx, order)
	if err != nil || len(products) != 0 {
		t.Fatalf("disabled product must not be eligible, products=%v err=%v", products, err)
	}
}

func TestPlayerIDResolverPriority(t *testing.T) {
	f := newAutomationFixture(t, "player_id_priority")
	ctx := context.Background()
	resolver := NewPlayerIDResolver(f.orders, f.settings)

	account := models.Account{Email: "buyer@example.com", MetaJSON: models.JSON{"player_id": "ACCOUNT-ID"}}
	if err := f.db.Create(&account).Error; err != nil {
		t.Fatalf("create account failed: %v", err)
	}

	cases := []struct {
		name   string
		order  *models.Order
		want   string
		source string
	}{
		{
			name:   "order meta wins",
			order:  f.seedOrder(t, account.ID, models.JSON{"_player_id": "ORDER-ID"}, models.OrderItem{ProductID: 1, MetaJSON: models.JSON{"Player ID Code": "ITEM-ID"}}),
			want:   "ORDER-ID",
			source: PlayerIDSourceOrderMeta,
		},
		{
			name:   "legacy item key",
			order:  f.seedOrder(t, account.ID, nil, models.OrderItem{ProductID: 1, MetaJSON: models.JSON{"Player ID Code": "ITEM-ID"}}),
			want:   "ITEM-ID",
			source: PlayerIDSourceItemMeta,
		},
		{
			name:   "account fallback",
			order:  f.seedOrder(t, account.ID, nil, models.OrderItem{ProductID: 1}),
			want:   "ACCOUNT-ID",
			source: PlayerIDSourceAccountMeta,
		},
		{
			name:   "guest without player id",
			order:  f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1}),
			want:   "",
			source: PlayerIDSourceNone,
		},
	}
	for _, tc := range cases {
		got, err := resolver.Resolve(ctx, tc.order)
		if err != nil {
			t.Fatalf("%s: resolve failed: %v", tc.name, err)
		}
		if got.PlayerID != tc.want || got.Source != tc.source {
			t.Fatalf("%s: expected %q from %s, got %+v", tc.name, tc.want, tc.source, got)
		}
	}
}

func TestPlayerIDResolverKeepsNumericIDsIntact(t *testing.T) {
	f := newAutomationFixture(t, "player_id_numeric")
	ctx := context.Background()
	resolver := NewPlayerIDResolver(f.orders, f.settings)

	inMemory := &models.Order{Items: []models.OrderItem{{ProductID: 1, MetaJSON: models.JSON{"Player ID Code": float64(12345678)}}}}
	got, err := resolver.Resolve(ctx, inMemory)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got.PlayerID != "12345678" {
		t.Fatalf("expected plain digits, got %q", got.PlayerID)
	}

	seeded := f.seedOrder(t, 0, nil, models.OrderItem{ProductID: 1, MetaJSON: models.JSON{"player_id": int64(9007199254740993)}})
	loaded, err := f.orders.GetByID(ctx, seeded.ID)
	if err != nil || loaded == nil {
		t.Fatalf("reload order failed: order=%v err=%v", loaded, err)
	}
	got, err = resolver.Resolve(ctx, loaded)
	if err != nil {
		t.Fatalf("resolve reloaded order failed: %v", err)
	}
	if got.PlayerID != "9007199254740993" || got.Source != PlayerIDSourceItemMeta {
		t.Fatalf("stored id must round-trip unchanged, got %+v", got)
	}
}

func TestPlayerIDResolverConfiguredMetaKey(t *testing.T) {
	f := newAutomationFixture(t, "player_id_meta_key")
	ctx := context.Background()
	if _, err := f.settings.UpdateAutomationSetting(ctx, AutomationSetting{PlayerIDMetaKey: "_uid"}); err != nil {
		t.Fatalf("update setting failed: %v", err)
	}
	resolver := NewPlayerIDResolver(f.orders, f.settings)

	order := f.seedOrder(t, 0, models.JSON{"_uid": 991234}, models.OrderItem{ProductID: 1})
	got, err := resolver.Resolve(ctx, order)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got.PlayerID != "991234" || got.Source != PlayerIDSourceOrderMeta {
		t.Fatalf("expected numeric meta to resolve as text, got %+v", got)
	}
}

func TestAutomationSettingNormalizeAndValidate(t *testing.T) {
	normalized := NormalizeAutomationSetting(AutomationSetting{
		EnabledProductIDs: []uint{5, 0, 3, 5},
		PlayerIDMetaKey:   "  _player ",
	})
	if len(normalized.EnabledProductIDs) != 2 || normalized.EnabledProductIDs[0] != 3 {
		t.Fatalf("expected sorted unique ids, got %v", normalized.EnabledProductIDs)
	}
	if normalized.PlayerIDMetaKey != "player" {
		t.Fatalf("expected prefix trimmed meta key, got %q", normalized.PlayerIDMetaKey)
	}

	err := ValidateAutomationSetting(AutomationSetting{EnabledProductIDs: []uint{1}, GroupProductIDs: []uint{2}})
	if !errors.Is(err, ErrAutomationConfigInvalid) {
		t.Fatalf("group product outside enabled set must be rejected, got %v", err)
	}

	f := newAutomationFixture(t, "automation_setting_roundtrip")
	ctx := context.Background()
	saved, err := f.settings.UpdateAutomationSetting(ctx, AutomationSetting{EnabledProductIDs: []uint{4, 2}, GroupProductIDs: []uint{4}})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	loaded, err := f.settings.GetAutomationSetting(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(loaded.EnabledProductIDs) != len(saved.EnabledProductIDs) || !loaded.IsGroupProduct(4) || loaded.PlayerIDMetaKey != "player_id" {
		t.Fatalf("unexpected stored setting: saved=%+v loaded=%+v", saved, loaded)
	}
}
