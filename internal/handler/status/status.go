package status

import (
	"strings"

	"twapexecution/internal/service/execution"
	"twapexecution/pkg/errors"
	"twapexecution/pkg/errors/ecode"
	"twapexecution/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 本地控制面：查执行进度、下停止指令
type Handler struct {
	ctrl *execution.Controller
}

func NewHandler(ctrl *execution.Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

func (h *Handler) Ping() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, "pong")
	}
}

// Status 返回当前执行的只读快照
func (h *Handler) Status() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.JSON(c, nil, h.ctrl.Snapshot())
	}
}

type stopRequest struct {
	Exchange string `json:"exchange" binding:"required"`
	Market   string `json:"market" binding:"required"`
}

// Stop 停止当前执行，exchange/market必须和正在跑的执行匹配，防止停错
func (h *Handler) Stop() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req stopRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, errors.Wrap(ecode.InvalidParamErr, "参数错误", err), nil)
			return
		}

		snap := h.ctrl.Snapshot()
		if !strings.EqualFold(req.Exchange, snap.Exchange) || !strings.EqualFold(req.Market, snap.Market) {
			response.JSON(c, errors.Newf(ecode.InvalidParamErr,
				"当前执行是 %s %s，不匹配", snap.Exchange, snap.Market), nil)
			return
		}

		h.ctrl.Stop()
		response.JSON(c, nil, "stopping")
	}
}
