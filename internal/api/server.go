package api

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/config"
)

// NewHTTPServer builds the server. ReadTimeout bounds video uploads, so it
// must cover MAX_UPLOAD_SIZE at the slowest expected client.
func NewHTTPServer(cfg *config.Config, handler http.Handler, logger hclog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
}
