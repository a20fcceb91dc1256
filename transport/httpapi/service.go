package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ServerService 把 http.Server 包装成 suture.Service：ctx 取消时优雅关闭。
type ServerService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewServerService 创建服务，shutdownTimeout 为 0 时使用 10 秒。
func NewServerService(server *http.Server, shutdownTimeout time.Duration) *ServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &ServerService{server: server, shutdownTimeout: shutdownTimeout}
}

func (s *ServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *ServerService) String() string { return "http-server" }
