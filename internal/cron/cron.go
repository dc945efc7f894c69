package cron

import (
	"context"
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/customeros/mailfs/config"
	"github.com/customeros/mailfs/internal/logger"
	"github.com/customeros/mailfs/internal/tracing"
)

const (
	// GroupSession serialises jobs that talk to the IMAP server
	GroupSession = "session"

	JobKeepalive = "keepalive"
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupSession: new(sync.Mutex),
	},
}

// Keepaliver is implemented by the mounted filesystem.
type Keepaliver interface {
	Keepalive(ctx context.Context) error
}

type CronManager struct {
	cfg       *config.CronConfig
	log       logger.Logger
	cron      *cronv3.Cron
	stopCh    chan struct{}
	stopOnce  sync.Once
	jobIDs    map[string]cronv3.EntryID
	keepalive Keepaliver
}

func NewCronManager(cfg *config.CronConfig, log logger.Logger, keepalive Keepaliver) *CronManager {
	return &CronManager{
		cfg:       cfg,
		log:       log,
		stopCh:    make(chan struct{}),
		jobIDs:    make(map[string]cronv3.EntryID),
		keepalive: keepalive,
	}
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		if cm.cron != nil {
			cm.log.Info("Stopping cron manager")
			ctx := cm.cron.Stop()
			// Wait for jobs to finish
			<-ctx.Done()
		}
		close(cm.stopCh)
	})
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	if cm.cfg.CronScheduleKeepalive != "" && cm.keepalive != nil {
		id, err := c.AddFunc(cm.cfg.CronScheduleKeepalive, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupSession].Lock()
			defer jobLocks.locks[GroupSession].Unlock()
			cm.sendKeepalive()
		})
		if err != nil {
			return err
		}
		cm.jobIDs[JobKeepalive] = id
		cm.log.Infof("Registered keepalive job with schedule: %s", cm.cfg.CronScheduleKeepalive)
	}
	return nil
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() error {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	if err := cm.registerJobs(c); err != nil {
		return err
	}
	c.Start()
	cm.cron = c
	return nil
}

func (cm *CronManager) sendKeepalive() {
	span, ctx := tracing.StartTracerSpan(context.Background(), "CronManager.sendKeepalive")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	if err := cm.keepalive.Keepalive(ctx); err != nil {
		tracing.TraceErr(span, err)
		cm.log.Warnf("Keepalive failed: %v", err)
		return
	}
	cm.log.Debug("Keepalive sent")
}
