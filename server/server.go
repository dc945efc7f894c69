package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"

	"github.com/customeros/mailfs/api"
	"github.com/customeros/mailfs/config"
	"github.com/customeros/mailfs/internal/credential"
	"github.com/customeros/mailfs/internal/cron"
	"github.com/customeros/mailfs/internal/fuse"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/models"
	"github.com/customeros/mailfs/internal/tracing"
	"github.com/customeros/mailfs/services/cache"
	"github.com/customeros/mailfs/services/mailfs"
	"github.com/customeros/mailfs/services/session"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config       *config.Config
	log          logger.Logger
	fs           *mailfs.FS
	fuseServer   *gofuse.Server
	httpServer   *http.Server
	cron         *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, tracing.MountTags{
		Server:     cfg.ImapConfig.Server,
		Username:   cfg.ImapConfig.Username,
		Mountpoint: cfg.MountConfig.Mountpoint,
	}, appLogger)
	if err != nil {
		return nil, errors.Wrap(err, "could not initialize jaeger tracer")
	}
	opentracing.SetGlobalTracer(tracer)

	if err := resolvePassword(cfg); err != nil {
		closer.Close()
		return nil, err
	}
	if err := validate(cfg); err != nil {
		closer.Close()
		return nil, err
	}

	state := models.NewState(cfg.CacheConfig.TTLs())
	dialer := session.NewDialer(session.DialerConfig{
		Server:             cfg.ImapConfig.Server,
		Username:           cfg.ImapConfig.Username,
		Password:           cfg.ImapConfig.Password,
		Security:           cfg.ImapConfig.Security,
		InsecureSkipVerify: cfg.ImapConfig.InsecureSkipVerify,
		Timeout:            cfg.ImapConfig.DialTimeout,
	}, appLogger)
	sessionService := session.NewSessionService(state, dialer, appLogger)
	cacheService := cache.NewCacheService(state, sessionService, appLogger)
	mfs := mailfs.NewFS(state, cacheService, sessionService, appLogger)

	s := &Server{
		config:       cfg,
		log:          appLogger,
		fs:           mfs,
		cron:         cron.NewCronManager(cfg.CronConfig, appLogger, mfs),
		tracerCloser: closer,
	}

	if cfg.StatusConfig.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		api.RegisterRoutes(router, mfs, cfg.MountConfig.Mountpoint)
		s.httpServer = &http.Server{
			Addr:    cfg.StatusConfig.Addr,
			Handler: router,
		}
	}

	return s, nil
}

// resolvePassword falls back to the keyring when no password was given.
func resolvePassword(cfg *config.Config) error {
	imapCfg := cfg.ImapConfig
	if imapCfg.Password != "" || imapCfg.Username == "" || imapCfg.Server == "" {
		return nil
	}
	store, err := credential.Open(credential.Config{
		ServiceName: cfg.KeyringConfig.ServiceName,
		FileDir:     cfg.KeyringConfig.FileDir,
	})
	if err != nil {
		return err
	}
	password, err := store.Get(credential.Key(imapCfg.Username, imapCfg.Server))
	if err != nil {
		if errors.Is(err, credential.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	imapCfg.Password = password
	return nil
}

func validate(cfg *config.Config) error {
	switch {
	case cfg.ImapConfig.Server == "":
		return errors.New("an IMAP server is required")
	case cfg.ImapConfig.Username == "":
		return errors.New("an IMAP username is required")
	case cfg.ImapConfig.Password == "":
		return errors.Errorf("no password given and none stored for %s",
			credential.Key(cfg.ImapConfig.Username, cfg.ImapConfig.Server))
	case cfg.MountConfig.Mountpoint == "":
		return errors.New("a mountpoint is required")
	}
	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)

		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		s.log.Errorf("Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	timeout := s.config.ImapConfig.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Fail before mounting when the server or the credentials are wrong
	if err := s.fs.Keepalive(ctx); err != nil {
		s.shutdownTracer()
		return errors.Wrap(err, "connecting to IMAP server")
	}

	server, err := fuse.Mount(s.config.MountConfig.Mountpoint, s.fs, fuse.MountOptions{
		FsName:     s.config.MountConfig.FsName,
		AllowOther: s.config.MountConfig.AllowOther,
		Debug:      s.config.MountConfig.Debug,
		Timeout:    time.Second,
	})
	if err != nil {
		s.closeSession()
		s.shutdownTracer()
		return err
	}
	s.fuseServer = server
	s.log.Infof("Mounted %s at %s", s.config.ImapConfig.Server, s.config.MountConfig.Mountpoint)

	if err := s.cron.StartCron(); err != nil {
		s.log.Warnf("Keepalive disabled: %v", err)
	}

	if s.httpServer != nil {
		go s.wrapGoroutine("http_server", func() {
			s.log.Infof("Starting status server on %s", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Errorf("HTTP server error: %v", err)
			}
		})
	}

	unmounted := make(chan struct{})
	go s.wrapGoroutine("fuse_server", func() {
		defer close(unmounted)
		s.fuseServer.Wait()
	})

	return s.waitForShutdown(unmounted)
}

func (s *Server) waitForShutdown(unmounted <-chan struct{}) error {
	defer s.recoverWithJaeger("shutdown")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		s.log.Info("Shutting down...")
		if err := s.fuseServer.Unmount(); err != nil {
			s.log.Errorf("Unmount failed: %v", err)
		}
	case <-unmounted:
		s.log.Info("Filesystem unmounted externally, shutting down...")
	}

	s.cron.Stop()

	if s.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("HTTP server shutdown error: %v", err)
		}
	}

	s.closeSession()
	s.shutdownTracer()
	return nil
}

func (s *Server) closeSession() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.fs.Close(ctx); err != nil {
		s.log.Warnf("Logout failed: %v", err)
	}
}

func (s *Server) shutdownTracer() {
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}
}
