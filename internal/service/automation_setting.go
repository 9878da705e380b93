package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/keyrelay/internal/constants"
)

const (
	automationProductIDsMaxSize  = 1000
	automationMetaKeyMaxRuneSize = 64
)

// AutomationSetting 自动化发货配置
type AutomationSetting struct {
	EnabledProductIDs []uint `json:"enabled_product_ids"`
	GroupProductIDs   []uint `json:"group_product_ids"`
	PlayerIDMetaKey   string `json:"player_id_meta_key"`
}

// IsEnabled 商品是否开启自动化
func (s AutomationSetting) IsEnabled(productID uint) bool {
	return containsUint(s.EnabledProductIDs, productID)
}

// IsGroupProduct 商品是否按卡密组发货
func (s AutomationSetting) IsGroupProduct(productID uint) bool {
	return containsUint(s.GroupProductIDs, productID)
}

func (s *SettingService) defaultAutomationSetting() AutomationSetting {
	metaKey := constants.DefaultPlayerIDMetaKey
	if s != nil && s.defaultPlayerIDMetaKey != "" {
		metaKey = s.defaultPlayerIDMetaKey
	}
	return NormalizeAutomationSetting(AutomationSetting{PlayerIDMetaKey: metaKey})
}

// NormalizeAutomationSetting 归一化自动化配置
func NormalizeAutomationSetting(setting AutomationSetting) AutomationSetting {
	setting.EnabledProductIDs = normalizeProductIDs(setting.EnabledProductIDs)
	setting.GroupProductIDs = normalizeProductIDs(setting.GroupProductIDs)

	key := strings.TrimSpace(setting.PlayerIDMetaKey)
	key = strings.TrimPrefix(key, constants.OrderMetaKeyPrefix)
	if runes := []rune(key); len(runes) > automationMetaKeyMaxRuneSize {
		key = string(runes[:automationMetaKeyMaxRuneSize])
	}
	if key == "" {
		key = constants.DefaultPlayerIDMetaKey
	}
	setting.PlayerIDMetaKey = key
	return setting
}

// ValidateAutomationSetting 校验自动化配置
func ValidateAutomationSetting(setting AutomationSetting) error {
	if len(setting.EnabledProductIDs) > automationProductIDsMaxSize {
		return fmt.Errorf("%w: too many enabled products", ErrAutomationConfigInvalid)
	}
	for _, id := range setting.GroupProductIDs {
		if !containsUint(setting.EnabledProductIDs, id) {
			return fmt.Errorf("%w: group product %d is not enabled", ErrAutomationConfigInvalid, id)
		}
	}
	return nil
}

// storedAutomationSetting settings 表中的存储形态，缺失字段沿用默认值
type storedAutomationSetting struct {
	EnabledProductIDs *flexibleIDs `json:"enabled_product_ids,omitempty"`
	GroupProductIDs   *flexibleIDs `json:"group_product_ids,omitempty"`
	PlayerIDMetaKey   *string      `json:"player_id_meta_key,omitempty"`
}

func (st storedAutomationSetting) merge(fallback AutomationSetting) AutomationSetting {
	result := fallback
	if st.EnabledProductIDs != nil {
		result.EnabledProductIDs = []uint(*st.EnabledProductIDs)
	}
	if st.GroupProductIDs != nil {
		result.GroupProductIDs = []uint(*st.GroupProductIDs)
	}
	if st.PlayerIDMetaKey != nil && strings.TrimSpace(*st.PlayerIDMetaKey) != "" {
		result.PlayerIDMetaKey = *st.PlayerIDMetaKey
	}
	return NormalizeAutomationSetting(result)
}

func toStoredAutomationSetting(setting AutomationSetting) storedAutomationSetting {
	enabled := flexibleIDs(setting.EnabledProductIDs)
	group := flexibleIDs(setting.GroupProductIDs)
	key := setting.PlayerIDMetaKey
	return storedAutomationSetting{EnabledProductIDs: &enabled, GroupProductIDs: &group, PlayerIDMetaKey: &key}
}

// GetAutomationSetting 每次从存储读取自动化配置，空时回退默认
func (s *SettingService) GetAutomationSetting(ctx context.Context) (AutomationSetting, error) {
	fallback := s.defaultAutomationSetting()
	if s == nil || s.repo == nil {
		return fallback, nil
	}
	var stored storedAutomationSetting
	found, err := s.loadSetting(ctx, constants.SettingKeyAutomationConfig, &stored)
	if err != nil || !found {
		return fallback, err
	}
	return stored.merge(fallback), nil
}

// UpdateAutomationSetting 更新自动化配置
func (s *SettingService) UpdateAutomationSetting(ctx context.Context, setting AutomationSetting) (AutomationSetting, error) {
	normalized := NormalizeAutomationSetting(setting)
	if err := ValidateAutomationSetting(normalized); err != nil {
		return s.defaultAutomationSetting(), err
	}
	if err := s.storeSetting(ctx, constants.SettingKeyAutomationConfig, toStoredAutomationSetting(normalized)); err != nil {
		return s.defaultAutomationSetting(), err
	}
	return normalized, nil
}

func normalizeProductIDs(ids []uint) []uint {
	result := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func containsUint(values []uint, target uint) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
