// Package router 注册HTTP路由。路径沿用无前缀的原始布局。
package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"github.com/xiaodongyu/Job-fit-engine/internal/api/handler"
)

// RegisterRoutes 注册全部API路由。adminToken非空时/jd/ingest
// 要求Authorization: Bearer令牌，为空则不设防（本地开发模式）。
func RegisterRoutes(h *server.Hertz, adminToken string, resume *handler.ResumeHandler, analysis *handler.AnalysisHandler, jd *handler.JDHandler) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok", "message": "Job Fit Engine is running"})
	})

	jdGroup := h.Group("/jd")
	if adminToken != "" {
		jdGroup.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
			keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
				return key == adminToken, nil
			}),
			keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
				ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "Invalid or missing admin token"})
			}),
		))
	}
	jdGroup.POST("/ingest", jd.HandleIngest)

	resumeGroup := h.Group("/resume")
	resumeGroup.POST("/upload", resume.HandleUpload)
	resumeGroup.POST("/upload/json", resume.HandleUploadJSON)
	resumeGroup.POST("/materials/add/json", resume.HandleAddMaterials)
	resumeGroup.GET("/status", resume.HandleStatus)
	resumeGroup.GET("/structured", resume.HandleStructured)
	resumeGroup.GET("/clusters", resume.HandleClusters)
	resumeGroup.GET("/chunks", resume.HandleChunks)
	resumeGroup.POST("/generate", analysis.HandleGenerateResume)

	analyzeGroup := h.Group("/analyze")
	analyzeGroup.POST("/fit", analysis.HandleAnalyzeFit)
	analyzeGroup.POST("/match-by-cluster", analysis.HandleMatchByCluster)

	h.POST("/experience/cluster", analysis.HandleClusterExperience)
}
