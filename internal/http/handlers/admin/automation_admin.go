package admin

import (
	"errors"
	"strconv"
	"strings"

	handlershared "github.com/keyrelay/internal/http/handlers/shared"
	"github.com/keyrelay/internal/http/response"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/service"

	"github.com/gin-gonic/gin"
)

const defaultDiagnosticsPageSize = 20

// GetAutomationSetting 获取自动化商品配置
func (h *Handler) GetAutomationSetting(c *gin.Context) {
	setting, err := h.SettingService.GetAutomationSetting(c.Request.Context())
	if err != nil {
		respondError(c, response.CodeInternal, "error.setting_fetch_failed", err)
		return
	}
	response.Success(c, setting)
}

// UpdateAutomationSetting 更新自动化商品配置，下一次判定即生效
func (h *Handler) UpdateAutomationSetting(c *gin.Context) {
	var req service.AutomationSetting
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	setting, err := h.SettingService.UpdateAutomationSetting(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrAutomationConfigInvalid) {
			respondErrorWithMsg(c, response.CodeBadRequest, err.Error(), nil)
			return
		}
		respondError(c, response.CodeInternal, "error.setting_update_failed", err)
		return
	}
	requestLog(c).Infow("admin_automation_setting_updated",
		"enabled_products", len(setting.EnabledProductIDs),
		"group_products", len(setting.GroupProductIDs),
	)
	response.Success(c, setting)
}

// ListAutomationLedger 分页查询自动化台账
func (h *Handler) ListAutomationLedger(c *gin.Context) {
	page, pageSize := parsePagination(c)
	filter := repository.AutomationLedgerListFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   strings.TrimSpace(c.Query("status")),
	}
	orderID, err := handlershared.QueryUint(c, "order_id")
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.order_id_invalid", nil)
		return
	}
	filter.OrderID = orderID
	entries, total, err := h.LedgerService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, response.CodeInternal, "error.ledger_fetch_failed", err)
		return
	}
	response.SuccessWithPage(c, entries, response.NewPagination(page, pageSize, total))
}

// GetAutomationDiagnostics 汇总远端状态与卡密池统计，单项失败不影响其他项
func (h *Handler) GetAutomationDiagnostics(c *gin.Context) {
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultDiagnosticsPageSize)))
	_, pageSize = handlershared.NormalizePagination(1, pageSize)
	report := h.Diagnostics.Collect(c.Request.Context(), pageSize)
	response.Success(c, report)
}

// TriggerReconcileSweep 手动触发一次对账巡检
func (h *Handler) TriggerReconcileSweep(c *gin.Context) {
	if h.ReconcileSweeper == nil {
		respondError(c, response.CodeServiceUnavailable, "error.automation_disabled", nil)
		return
	}
	report, err := h.ReconcileSweeper.Sweep(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "error.sweep_failed")
		return
	}
	response.Success(c, report)
}

// MarkOrderPaid 订单支付回调，触发自动化流水线
func (h *Handler) MarkOrderPaid(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id", "error.order_id_invalid")
	if !ok {
		return
	}
	result, err := h.AutomationService.HandleOrderPaid(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err, "error.automation_failed")
		return
	}
	if result.Status == service.ProcessStatusQueued {
		response.Accepted(c, result)
		return
	}
	response.Success(c, result)
}
