// Command mockgemini serves a stand-in for the Gemini generateContent API
// so mt can be exercised end to end without a real key.
//
// Point gemini.base_url at it:
//
//	MAILTRIAGE_GEMINI_BASE_URL=http://localhost:8080/models mt run
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/daviddao/mailtriage/internal/mockgemini"
	"github.com/gin-gonic/gin"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "mockgemini"})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mockgemini.New().Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server stopped", "error", err)
	}
}
