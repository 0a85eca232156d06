// Package httpapi is the thin admin HTTP surface named in spec.md §6: a
// contract-only set of routes translating one-to-one to Store operations,
// routed with chi and guarded by a bearer JWT, the same layering the
// teacher's internal/app/httpapi keeps (Service owns the net/http.Server
// lifecycle; Handler owns routing).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/pkg/logger"
)

// Service fits into the system manager lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger
}

// NewService builds the HTTP service. metricsHandler serves GET /metrics;
// it is internal/metrics.Collectors.Handler() in production. compiler may
// be nil (see NewHandler).
func NewService(addr string, store Store, reg Registry, compiler Compiler, metricsHandler http.Handler, jwtSecret []byte, log *logger.Logger) *Service {
	h := NewHandler(store, reg, compiler, metricsHandler)
	h = wrapWithAuth(h, jwtSecret, log)
	return &Service{addr: addr, handler: h, log: log}
}

var _ service.DescriptorProvider = (*Service)(nil)

func (s *Service) Name() string { return "httpapi" }

func (s *Service) Descriptor() service.Descriptor {
	return service.Descriptor{Name: s.Name(), Domain: "monitoring", Layer: service.LayerEngine}
}

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithField("error", err).Error("httpapi: server error")
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
