package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApi mounts the gallery API and the metrics endpoint on the router.
func NewApi(router *gin.Engine, gallery *GalleryHandler) {
	gallery.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
