package admin

import (
	"errors"
	"strings"

	"github.com/keyrelay/internal/constants"
	handlershared "github.com/keyrelay/internal/http/handlers/shared"
	"github.com/keyrelay/internal/http/response"
	"github.com/keyrelay/internal/repository"
	"github.com/keyrelay/internal/service"

	"github.com/gin-gonic/gin"
)

// ImportLicenseKeysRequest 导入单卡密请求，code 与 codes 任选其一
type ImportLicenseKeysRequest struct {
	Code       string   `json:"code"`
	Codes      []string `json:"codes"`
	ProductIDs []uint   `json:"product_ids"`
}

// ImportLicenseGroupRequest 导入卡密组请求
type ImportLicenseGroupRequest struct {
	Codes      []string `json:"codes" binding:"required"`
	ProductIDs []uint   `json:"product_ids"`
	Capacity   int      `json:"capacity"`
	Name       string   `json:"name"`
}

// ImportLicenseKeys 导入单卡密（单条或批量）
func (h *Handler) ImportLicenseKeys(c *gin.Context) {
	var req ImportLicenseKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	codes := req.Codes
	if strings.TrimSpace(req.Code) != "" {
		codes = append([]string{req.Code}, codes...)
	}
	if len(codes) == 0 {
		respondError(c, response.CodeBadRequest, "error.license_key_invalid", nil)
		return
	}

	ids, err := h.KeyPoolService.AddSingles(c.Request.Context(), codes, req.ProductIDs)
	if err != nil {
		h.respondImportError(c, err)
		return
	}
	h.Metrics.RecordImport("single", len(ids))
	requestLog(c).Infow("admin_license_keys_imported", "count", len(ids), "product_ids", req.ProductIDs)
	response.Success(c, gin.H{
		"created": len(ids),
		"ids":     ids,
	})
}

// ImportLicenseGroup 导入卡密组
func (h *Handler) ImportLicenseGroup(c *gin.Context) {
	var req ImportLicenseGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	capacity := req.Capacity
	if capacity <= 0 {
		capacity = constants.DefaultGroupCapacity
	}

	groupID, err := h.KeyPoolService.AddGroup(c.Request.Context(), req.Codes, req.ProductIDs, capacity, req.Name)
	if err != nil {
		h.respondImportError(c, err)
		return
	}
	h.Metrics.RecordImport("group", len(req.Codes))
	requestLog(c).Infow("admin_license_group_imported", "group_id", groupID, "members", len(req.Codes))
	response.Success(c, gin.H{
		"group_id": groupID,
		"created":  len(req.Codes),
		"capacity": capacity,
	})
}

func (h *Handler) respondImportError(c *gin.Context, err error) {
	var dupErr *service.DuplicateKeyError
	switch {
	case errors.As(err, &dupErr):
		respondErrorWithMsg(c, response.CodeConflict, dupErr.Error(), nil)
	case errors.Is(err, service.ErrDuplicateKey):
		respondError(c, response.CodeConflict, "error.license_key_duplicate", nil)
	case errors.Is(err, service.ErrInvalidLicenseKey):
		respondError(c, response.CodeBadRequest, "error.license_key_invalid", nil)
	case errors.Is(err, service.ErrInvalidGroupCapacity):
		respondErrorWithMsg(c, response.CodeBadRequest, err.Error(), nil)
	default:
		respondError(c, response.CodeInternal, "error.license_key_import_failed", err)
	}
}

// GetKeyPoolStats 卡密池统计
func (h *Handler) GetKeyPoolStats(c *gin.Context) {
	stats, err := h.KeyPoolService.Stats(c.Request.Context())
	if err != nil {
		respondError(c, response.CodeInternal, "error.key_pool_stats_failed", err)
		return
	}
	response.Success(c, stats)
}

// ListLicenseKeys 分页查询卡密（卡密脱敏）
func (h *Handler) ListLicenseKeys(c *gin.Context) {
	page, pageSize := parsePagination(c)
	filter := repository.LicenseKeyListFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   strings.TrimSpace(c.Query("status")),
		GroupID:  strings.TrimSpace(c.Query("group_id")),
	}
	productID, err := handlershared.QueryUint(c, "product_id")
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return
	}
	filter.ProductID = productID
	if filter.OnlyGroups, err = handlershared.QueryBool(c, "only_groups"); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", nil)
		return
	}

	items, total, err := h.KeyPoolService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, response.CodeInternal, "error.license_key_fetch_failed", err)
		return
	}
	response.SuccessWithPage(c, items, response.NewPagination(page, pageSize, total))
}

// DeleteLicenseKey 删除卡密
func (h *Handler) DeleteLicenseKey(c *gin.Context) {
	id, ok := parseIDParam(c, "id", "error.license_key_invalid")
	if !ok {
		return
	}
	if err := h.KeyPoolService.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err, "error.license_key_delete_failed")
		return
	}
	response.Success(c, gin.H{"id": id})
}
