package app

import (
	"context"
	"fmt"

	"github.com/LJTian/TicketWatch/internal/collector"
	"github.com/LJTian/TicketWatch/internal/config"
	"github.com/LJTian/TicketWatch/internal/notifier"
	"github.com/LJTian/TicketWatch/internal/pipeline"
	"github.com/LJTian/TicketWatch/internal/processor"
	"github.com/LJTian/TicketWatch/internal/scheduler"
	"github.com/LJTian/TicketWatch/internal/storage"
)

// App holds the wired components shared by cmd/api and cmd/collect.
type App struct {
	Store *storage.Store
	TDF   *pipeline.TDFPipeline
	TKTS  *pipeline.TKTSPipeline
	cfg   *config.Config
}

func New(cfg *config.Config) (*App, error) {
	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		return nil, err
	}

	mailer, err := notifier.NewMailer(notifier.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	}, cfg.EmailTemplate)
	if err != nil {
		return nil, err
	}

	return &App{
		Store: store,
		TDF:   pipeline.NewTDFPipeline(collector.NewTDFFetcher(cfg.HTTPTimeout), store, mailer),
		TKTS:  pipeline.NewTKTSPipeline(collector.NewTKTSFetcher(cfg.HTTPTimeout), processor.NewSimpleProcessor(), store),
		cfg:   cfg,
	}, nil
}

// Jobs returns both pipelines as scheduler jobs on their configured specs.
func (a *App) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{Name: a.TDF.Name(), CronSpec: a.cfg.TDFCronSpec, Run: func(ctx context.Context) error {
			_, err := a.TDF.Run(ctx)
			return err
		}},
		{Name: a.TKTS.Name(), CronSpec: a.cfg.TKTSCronSpec, Run: func(ctx context.Context) error {
			_, err := a.TKTS.Run(ctx)
			return err
		}},
	}
}

// Job looks up a job by name.
func (a *App) Job(name string) (scheduler.Job, error) {
	for _, j := range a.Jobs() {
		if j.Name == name {
			return j, nil
		}
	}
	return scheduler.Job{}, fmt.Errorf("app: unknown job %q", name)
}
