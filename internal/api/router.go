package api

import (
	"net/http"

	httpSwagger "github.com/swaggo/http-swagger"

	"go-export-service/internal/api/handler"
	"go-export-service/pkg/router"
)

func RegisterRoutes(r *router.Router, h *handler.ExportHandler) {
	r.POST("/api/v1/exports", h.CreateExport)
	r.GET("/api/v1/exports", h.ListExports)
	r.GET("/api/v1/exports/*/events", h.GetExportEvents)
	r.GET("/api/v1/exports/*/download", h.DownloadExport)
	r.POST("/api/v1/exports/*/cancel", h.CancelExport)
	r.GET("/api/v1/exports/*", h.GetExport)

	r.GET("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.GET("/swagger/*", router.HandlerFunc(httpSwagger.WrapHandler))
}
