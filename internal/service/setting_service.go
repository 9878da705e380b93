package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
)

// SettingService 运行时可改配置的读写
type SettingService struct {
	repo                   repository.SettingRepository
	defaultPlayerIDMetaKey string
}

// NewSettingService 创建设置服务
func NewSettingService(repo repository.SettingRepository, defaultPlayerIDMetaKey string) *SettingService {
	key := strings.TrimSpace(defaultPlayerIDMetaKey)
	if key == "" {
		key = constants.DefaultPlayerIDMetaKey
	}
	return &SettingService{repo: repo, defaultPlayerIDMetaKey: key}
}

// loadSetting 读取 key 并解码到 dest，不存在时返回 false
func (s *SettingService) loadSetting(ctx context.Context, key string, dest interface{}) (bool, error) {
	setting, err := s.repo.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load setting %s: %w", key, err)
	}
	if setting == nil || len(setting.ValueJSON) == 0 {
		return false, nil
	}
	raw, err := json.Marshal(setting.ValueJSON)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

// storeSetting 以 JSON 对象形式写入 key
func (s *SettingService) storeSetting(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var object models.JSON
	if err := json.Unmarshal(raw, &object); err != nil {
		return fmt.Errorf("setting %s must be a json object: %w", key, err)
	}
	if _, err := s.repo.Put(ctx, key, object); err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	return nil
}

// flexibleIDs 商品ID列表，兼容数字、数字字符串与逗号分隔字符串，非法项忽略
type flexibleIDs []uint

func (f *flexibleIDs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = flexibleIDs{}
		return nil
	}
	var items []json.RawMessage
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
	} else {
		items = []json.RawMessage{data}
	}

	ids := make(flexibleIDs, 0, len(items))
	for _, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err != nil {
			text = string(item)
		}
		for _, part := range strings.Split(text, ",") {
			if id, ok := parsePositiveID(part); ok {
				ids = append(ids, id)
			}
		}
	}
	*f = ids
	return nil
}

func parsePositiveID(raw string) (uint, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return uint(n), n > 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 1 || f != float64(uint64(f)) {
		return 0, false
	}
	return uint(f), true
}
