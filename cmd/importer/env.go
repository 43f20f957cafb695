package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-importer/internal/archive"
	"github.com/dvloznov/ledger-importer/internal/config"
	"github.com/dvloznov/ledger-importer/internal/events"
	"github.com/dvloznov/ledger-importer/internal/logger"
	"github.com/dvloznov/ledger-importer/internal/store/sqlite"
	"github.com/rs/zerolog"
)

// runTimeout bounds a whole command run.
const runTimeout = 10 * time.Minute

// windowLayout is the format of the -start and -end flags.
const windowLayout = "2006-01-02T15:04:05"

// defaultWindow is how far back a sync reaches when -start is not given.
const defaultWindow = 30 * 24 * time.Hour

// env is what every command needs: configuration, a logger and a context
// carrying it.
type env struct {
	cfg *config.Config
	log zerolog.Logger
	ctx context.Context
}

func setup(ctx context.Context) (*env, context.CancelFunc, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	ctx = logger.WithContext(ctx, log)
	return &env{cfg: cfg, log: log, ctx: ctx}, cancel, nil
}

func (e *env) openStore() (*sqlite.Store, error) {
	e.log.Debug().Str("path", e.cfg.DatabasePath).Msg("Opening ledger database")
	return sqlite.Open(e.ctx, e.cfg.DatabasePath)
}

// archiveSink returns the configured snapshot archive, or nil when no bucket
// is set. The returned close function is never nil.
func (e *env) archiveSink() (*archive.GCSSink, func(), error) {
	if e.cfg.ArchiveBucket == "" {
		return nil, func() {}, nil
	}
	sink, err := archive.NewGCSSink(e.ctx, e.cfg.ArchiveBucket, e.cfg.ArchiveCredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	return sink, func() { sink.Close() }, nil
}

// publisher returns the configured event publisher, or events.Nop when no
// brokers are set. The returned close function is never nil.
func (e *env) publisher() (events.Publisher, func()) {
	if len(e.cfg.KafkaBrokers) == 0 {
		return events.Nop{}, func() {}
	}
	p := events.NewKafkaPublisher(e.cfg.KafkaBrokers, e.cfg.KafkaTopic)
	return p, func() {
		if err := p.Close(); err != nil {
			e.log.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}
}

// parseWindow resolves the -start and -end flags. An empty end means now and
// an empty start means defaultWindow before end.
func parseWindow(start, end string, now time.Time) (time.Time, time.Time, error) {
	to := now
	if end != "" {
		t, err := time.Parse(windowLayout, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end %q: %w", end, err)
		}
		to = t
	}

	from := to.Add(-defaultWindow)
	if start != "" {
		t, err := time.Parse(windowLayout, start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start %q: %w", start, err)
		}
		from = t
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("-start %s is after -end %s", from.Format(windowLayout), to.Format(windowLayout))
	}
	return from, to, nil
}
