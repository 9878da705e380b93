package admin

import "github.com/keyrelay/internal/provider"

// Handler 管理端接口处理器入口
// 说明：卡密池、自动化配置、台账与诊断均挂在该处理器下。
type Handler struct {
	*provider.Container
}

// New 创建管理端处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
