package session

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailfs/interfaces"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/tracing"
	"github.com/customeros/mailfs/internal/wire"
)

type DialerConfig struct {
	Server             string
	Username           string
	Password           string
	Security           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

type wireDialer struct {
	config DialerConfig
	log    logger.Logger
}

func NewDialer(config DialerConfig, log logger.Logger) interfaces.Dialer {
	return &wireDialer{config: config, log: log}
}

// Dial connects to the configured server and logs in.
func (d *wireDialer) Dial(ctx context.Context) (interfaces.IMAPConn, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Dialer.Dial")
	defer span.Finish()
	tracing.SetDefaultSessionSpanTags(ctx, span)
	span.SetTag("server", d.config.Server)
	span.SetTag("security", d.config.Security)

	conn, err := wire.Dial(ctx, wire.DialOptions{
		Address:            d.config.Server,
		Security:           d.config.Security,
		InsecureSkipVerify: d.config.InsecureSkipVerify,
		Timeout:            d.config.Timeout,
	}, d.log)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	loginSpan := opentracing.StartSpan("Dialer.login", opentracing.ChildOf(span.Context()))
	loginSpan.SetTag("username", d.config.Username)

	loginCtx := ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		loginCtx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}
	if err := conn.Login(loginCtx, d.config.Username, d.config.Password); err != nil {
		conn.Close()
		tracing.TraceErr(loginSpan, err)
		loginSpan.Finish()
		return nil, err
	}
	loginSpan.SetTag("success", true)
	loginSpan.Finish()

	d.log.Infof("logged in to %s as %s", d.config.Server, d.config.Username)
	return conn, nil
}
