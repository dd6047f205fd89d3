package router

import (
	"twapexecution/internal/handler/status"

	"github.com/gin-gonic/gin"
)

type ApiRouter struct {
	statusHandler *status.Handler
}

func NewApiRouter(sh *status.Handler) *ApiRouter {
	return &ApiRouter{statusHandler: sh}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	base := g.Group("/api/v1")

	base.GET("/ping", api.statusHandler.Ping())

	t := base.Group("/twap")
	{
		t.GET("/status", api.statusHandler.Status())
		t.POST("/stop", api.statusHandler.Stop())
	}
}
