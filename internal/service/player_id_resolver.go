package service

import (
	"context"

	"github.com/keyrelay/internal/constants"
	"github.com/keyrelay/internal/models"
)

// 历史版本使用过的订单项玩家ID字段名，按优先级排列
var legacyPlayerIDItemKeys = []string{
	"Player ID Code",
	"player_id",
	"Player ID",
	"playerid",
	"_player_id",
}

// 玩家ID来源
const (
	PlayerIDSourceOrderMeta   = "order_meta"
	PlayerIDSourceItemMeta    = "item_meta"
	PlayerIDSourceAccountMeta = "account_meta"
	PlayerIDSourceNone        = "none"
)

// AccountReader 下单账号读取
type AccountReader interface {
	GetAccount(ctx context.Context, id uint) (*models.Account, error)
}

// PlayerIDResolution 玩家ID解析结果，PlayerID 为空表示无法自动化
type PlayerIDResolution struct {
	PlayerID string
	Source   string
}

type playerIDStrategy struct {
	source string
	lookup func(ctx context.Context, order *models.Order, metaKey string) (string, error)
}

// PlayerIDResolver 按固定优先级查找玩家ID：订单 > 订单项 > 账号
type PlayerIDResolver struct {
	accounts   AccountReader
	settings   AutomationSettingSource
	strategies []playerIDStrategy
}

// NewPlayerIDResolver 创建玩家ID解析器
func NewPlayerIDResolver(accounts AccountReader, settings AutomationSettingSource) *PlayerIDResolver {
	r := &PlayerIDResolver{accounts: accounts, settings: settings}
	r.strategies = []playerIDStrategy{
		{source: PlayerIDSourceOrderMeta, lookup: r.fromOrderMeta},
		{source: PlayerIDSourceItemMeta, lookup: r.fromItemMeta},
		{source: PlayerIDSourceAccountMeta, lookup: r.fromAccountMeta},
	}
	return r
}

// Resolve 解析订单玩家ID
func (r *PlayerIDResolver) Resolve(ctx context.Context, order *models.Order) (PlayerIDResolution, error) {
	if order == nil {
		return PlayerIDResolution{Source: PlayerIDSourceNone}, nil
	}
	setting, err := r.settings.GetAutomationSetting(ctx)
	if err != nil {
		return PlayerIDResolution{}, err
	}
	for _, strategy := range r.strategies {
		value, err := strategy.lookup(ctx, order, setting.PlayerIDMetaKey)
		if err != nil {
			return PlayerIDResolution{}, err
		}
		if value != "" {
			return PlayerIDResolution{PlayerID: value, Source: strategy.source}, nil
		}
	}
	return PlayerIDResolution{Source: PlayerIDSourceNone}, nil
}

func (r *PlayerIDResolver) fromOrderMeta(_ context.Context, order *models.Order, metaKey string) (string, error) {
	return order.MetaJSON.String(constants.OrderMetaKeyPrefix + metaKey), nil
}

func (r *PlayerIDResolver) fromItemMeta(_ context.Context, order *models.Order, metaKey string) (string, error) {
	keys := append(append([]string{}, legacyPlayerIDItemKeys...), metaKey)
	for _, item := range order.Items {
		for _, key := range keys {
			if value := item.MetaJSON.String(key); value != "" {
				return value, nil
			}
		}
	}
	return "", nil
}

func (r *PlayerIDResolver) fromAccountMeta(ctx context.Context, order *models.Order, metaKey string) (string, error) {
	if order.UserID == 0 || r.accounts == nil {
		return "", nil
	}
	account, err := r.accounts.GetAccount(ctx, order.UserID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", nil
	}
	return account.MetaJSON.String(metaKey), nil
}
