package handler

import (
	"persona-chat-go/internal/middleware"
	"persona-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// AnalysisHandler 处理分析记录与摘要相关的请求。
type AnalysisHandler struct {
	analysisService service.AnalysisService
}

// NewAnalysisHandler 创建一个新的 AnalysisHandler。
func NewAnalysisHandler(analysisService service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysisService: analysisService}
}

// GetAnalysis 返回最近的分析记录，按时间倒序。
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	records, err := h.analysisService.ListAnalyses(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondServiceError(c, "GetAnalysis", err)
		return
	}
	respondOK(c, gin.H{"analysis": records})
}

// PostAnalyse 立即执行一次分析并更新摘要。
func (h *AnalysisHandler) PostAnalyse(c *gin.Context) {
	run, err := h.analysisService.Run(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondServiceError(c, "PostAnalyse", err)
		return
	}
	respondOK(c, gin.H{"analysis": run.Analysis, "summary": run.Summary})
}

// GetSummary 返回用户的滚动摘要，不存在时为 null。
func (h *AnalysisHandler) GetSummary(c *gin.Context) {
	summary, err := h.analysisService.GetSummary(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondServiceError(c, "GetSummary", err)
		return
	}
	respondOK(c, gin.H{"summary": summary})
}
