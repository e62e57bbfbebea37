package handler

import (
	"persona-chat-go/internal/middleware"
	"persona-chat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ExportHandler 处理用户数据导出请求。
type ExportHandler struct {
	exportService service.ExportService
}

// NewExportHandler 创建一个新的 ExportHandler。
func NewExportHandler(exportService service.ExportService) *ExportHandler {
	return &ExportHandler{exportService: exportService}
}

// Export 打包用户数据并返回限时下载链接。
func (h *ExportHandler) Export(c *gin.Context) {
	res, err := h.exportService.Export(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondServiceError(c, "Export", err)
		return
	}
	respondOK(c, res)
}
