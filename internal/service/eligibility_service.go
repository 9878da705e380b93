package service

import (
	"context"

	"github.com/keyrelay/internal/models"
)

// 不符合自动化条件的原因
const (
	EligibilityReasonAlreadyAttempted = "already_attempted"
	EligibilityReasonNoEnabledProduct = "no_enabled_product"
	EligibilityReasonEmptyOrder       = "empty_order"
)

// LedgerLookup 台账存在性查询
type LedgerLookup interface {
	Exists(ctx context.Context, orderID uint) (bool, error)
}

// AutomationSettingSource 自动化配置读取
type AutomationSettingSource interface {
	GetAutomationSetting(ctx context.Context) (AutomationSetting, error)
}

// EligibilityDecision 自动化资格判定结果
type EligibilityDecision struct {
	Eligible   bool
	Reason     string
	ProductIDs []uint
	Setting    AutomationSetting
}

// EligibilityService 自动化资格判定（只读）
type EligibilityService struct {
	ledger   LedgerLookup
	settings AutomationSettingSource
}

// NewEligibilityService 创建资格判定服务
func NewEligibilityService(ledger LedgerLookup, settings AutomationSettingSource) *EligibilityService {
	return &EligibilityService{ledger: ledger, settings: settings}
}

// Evaluate 判定订单是否可自动化，配置与台账每次实时读取
func (s *EligibilityService) Evaluate(ctx context.Context, order *models.Order) (*EligibilityDecision, error) {
	if order == nil || order.ID == 0 {
		return &EligibilityDecision{Reason: EligibilityReasonEmptyOrder}, nil
	}

	attempted, err := s.ledger.Exists(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if attempted {
		return &EligibilityDecision{Reason: EligibilityReasonAlreadyAttempted}, nil
	}

	setting, err := s.settings.GetAutomationSetting(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]uint, 0)
	for _, id := range order.ProductIDs() {
		if setting.IsEnabled(id) && !containsUint(matched, id) {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		return &EligibilityDecision{Reason: EligibilityReasonNoEnabledProduct, Setting: setting}, nil
	}
	return &EligibilityDecision{Eligible: true, ProductIDs: matched, Setting: setting}, nil
}

// IsEligible 订单是否可自动化
func (s *EligibilityService) IsEligible(ctx context.Context, order *models.Order) (bool, error) {
	decision, err := s.Evaluate(ctx, order)
	if err != nil {
		return false, err
	}
	return decision.Eligible, nil
}

// EligibleProducts 返回订单中开启自动化的商品（按订单项顺序）
func (s *EligibilityService) EligibleProducts(ctx context.Context, order *models.Order) ([]uint, error) {
	decision, err := s.Evaluate(ctx, order)
	if err != nil {
		return nil, err
	}
	return decision.ProductIDs, nil
}
