package middleware

import (
	midsec "ChatRelay/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	Identity *midsec.Options // nil: no identity binding
}

// 封装 GET
func GET(r gin.IRouter, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Identity != nil {
		r.GET(path, midsec.Middleware(opt.Identity), handler)
	} else {
		r.GET(path, handler)
	}
}
