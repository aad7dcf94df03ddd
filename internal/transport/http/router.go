package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine serving the REST API and the /ws gateway.
func NewRouter(rest *RESTHandler, ws *WSHandler, corsOrigins string, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger), CORS(corsOrigins))
	rest.Register(r)
	r.GET("/ws", gin.WrapF(ws.ServeWS))
	return r
}
