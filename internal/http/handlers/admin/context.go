package admin

import (
	handlershared "github.com/keyrelay/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

func getAdminID(c *gin.Context) (uint, bool) {
	return handlershared.CurrentAdminID(c)
}

func parseIDParam(c *gin.Context, name, invalidKey string) (uint, bool) {
	return handlershared.ParseIDParam(c, name, invalidKey)
}

func parsePagination(c *gin.Context) (int, int) {
	return handlershared.ParsePagination(c)
}
