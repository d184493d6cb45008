// Package handler 实现HTTP端点。handler只做参数校验和错误映射，
// 业务逻辑全部在pipeline/analysis/vecindex的服务层。
package handler

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// writeError 按错误分类码映射HTTP状态：validation→400、not_found→404、
// upstream→502，其余一律500。响应体同时带上机器可读的code
func writeError(c *app.RequestContext, err error) {
	code := types.CodeOf(err)
	status := consts.StatusInternalServerError
	switch code {
	case types.CodeValidation:
		status = consts.StatusBadRequest
	case types.CodeNotFound:
		status = consts.StatusNotFound
	case types.CodeUpstream:
		status = consts.StatusBadGateway
	}
	c.JSON(status, utils.H{"error": err.Error(), "code": string(code)})
}

// bindJSON 解析JSON请求体，失败时直接写400响应并返回false
func bindJSON(c *app.RequestContext, req any) bool {
	if err := c.BindJSON(req); err != nil {
		writeError(c, types.NewValidationError("Invalid JSON body"))
		return false
	}
	return true
}
