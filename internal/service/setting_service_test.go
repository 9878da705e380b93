package service

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
)

func TestFlexibleIDsAcceptsLegacyShapes(t *testing.T) {
	cases := []struct {
		raw  string
		want []uint
	}{
		{raw: `[3, 1, 2]`, want: []uint{3, 1, 2}},
		{raw: `["4", " 5 ", "x", 0, -1, 1.5]`, want: []uint{4, 5}},
		{raw: `"7,8, ,9"`, want: []uint{7, 8, 9}},
		{raw: `12`, want: []uint{12}},
		{raw: `null`, want: []uint{}},
	}
	for _, tc := range cases {
		var ids flexibleIDs
		if err := json.Unmarshal([]byte(tc.raw), &ids); err != nil {
			t.Fatalf("%s: unmarshal failed: %v", tc.raw, err)
		}
		if !reflect.DeepEqual([]uint(ids), tc.want) {
			t.Fatalf("%s: want %v, got %v", tc.raw, tc.want, ids)
		}
	}
}

func TestGetAutomationSettingMergesStoredFields(t *testing.T) {
	db := setupServiceTestDB(t, "setting_merge")
	repo := repository.NewSettingRepository(db)
	svc := NewSettingService(repo, "uid")
	ctx := context.Background()

	setting, err := svc.GetAutomationSetting(ctx)
	if err != nil {
		t.Fatalf("get default failed: %v", err)
	}
	if setting.PlayerIDMetaKey != "uid" || len(setting.EnabledProductIDs) != 0 {
		t.Fatalf("unexpected default setting: %+v", setting)
	}

	// 旧版本写入的字符串 ID 且缺少 meta key
	if _, err := repo.Put(ctx, constants.SettingKeyAutomationConfig, models.JSON{
		"enabled_product_ids": "9,3,3",
		"group_product_ids":   []interface{}{"3"},
	}); err != nil {
		t.Fatalf("seed legacy setting failed: %v", err)
	}
	setting, err = svc.GetAutomationSetting(ctx)
	if err != nil {
		t.Fatalf("get legacy setting failed: %v", err)
	}
	want := AutomationSetting{EnabledProductIDs: []uint{3, 9}, GroupProductIDs: []uint{3}, PlayerIDMetaKey: "uid"}
	if !reflect.DeepEqual(setting, want) {
		t.Fatalf("want %+v, got %+v", want, setting)
	}
}

func TestUpdateAutomationSettingPersistsNormalizedValue(t *testing.T) {
	db := setupServiceTestDB(t, "setting_update")
	svc := NewSettingService(repository.NewSettingRepository(db), "")
	ctx := context.Background()

	if _, err := svc.UpdateAutomationSetting(ctx, AutomationSetting{EnabledProductIDs: []uint{1}, GroupProductIDs: []uint{2}}); err == nil {
		t.Fatalf("group product outside enabled set should be rejected")
	}
	saved, err := svc.UpdateAutomationSetting(ctx, AutomationSetting{
		EnabledProductIDs: []uint{5, 0, 2, 5},
		GroupProductIDs:   []uint{5},
		PlayerIDMetaKey:   " _steam_id ",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	loaded, err := svc.GetAutomationSetting(ctx)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reflect.DeepEqual(saved, loaded) {
		t.Fatalf("reloaded setting differs: saved=%+v loaded=%+v", saved, loaded)
	}
	if !reflect.DeepEqual(loaded.EnabledProductIDs, []uint{2, 5}) || loaded.PlayerIDMetaKey != "steam_id" {
		t.Fatalf("unexpected normalized setting: %+v", loaded)
	}
}
