package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/moneymoves/engine/internal/approval"
	"github.com/moneymoves/engine/internal/audit"
	"github.com/moneymoves/engine/internal/backup"
	"github.com/moneymoves/engine/internal/broker"
	brokerlive "github.com/moneymoves/engine/internal/broker/live"
	brokermock "github.com/moneymoves/engine/internal/broker/mock"
	"github.com/moneymoves/engine/internal/congress"
	"github.com/moneymoves/engine/internal/config"
	"github.com/moneymoves/engine/internal/discovery"
	"github.com/moneymoves/engine/internal/earnings"
	"github.com/moneymoves/engine/internal/orchestrator"
	"github.com/moneymoves/engine/internal/outcome"
	"github.com/moneymoves/engine/internal/pricing"
	"github.com/moneymoves/engine/internal/pricing/yahoo"
	"github.com/moneymoves/engine/internal/principles"
	"github.com/moneymoves/engine/internal/reconcile"
	"github.com/moneymoves/engine/internal/risk"
	"github.com/moneymoves/engine/internal/scheduler"
	"github.com/moneymoves/engine/internal/server"
	"github.com/moneymoves/engine/internal/signal"
	"github.com/moneymoves/engine/internal/store"
	"github.com/moneymoves/engine/internal/thesis"
	"github.com/moneymoves/engine/internal/tradingwindow"
	"github.com/moneymoves/engine/internal/whatif"
	"github.com/moneymoves/engine/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting money moves engine")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer st.Close()

	auditLog := audit.New(st)

	yahooClient := yahoo.NewClient(log)
	pricingSvc := pricing.NewService(yahooClient, nil, log)

	var execBroker broker.Broker
	if cfg.Mode == "live" {
		execBroker = brokerlive.New(cfg.SchwabClientID, cfg.SchwabClientSecret, cfg.SchwabRefreshToken, log)
	} else {
		execBroker = brokermock.New(st, pricingSvc, auditLog, log)
	}

	principlesEng := principles.New(st, log)
	thesisEng := thesis.New(st, auditLog, log)
	signalEng := signal.New(st, auditLog, principlesEng, thesisEng, cfg.ExpertiseDomains, cfg.DomainBoost, cfg.OutOfDomainPenalty, log)

	discoveryEng := discovery.New(st, pricingSvc, log)
	windowMgr := tradingwindow.New(st, log)
	earningsCal := earnings.Load(cfg.EarningsCalendarPath, log)
	riskMgr := risk.New(st, auditLog, windowMgr, earningsCal, discoveryEng, cfg.EarningsWindowDays, log)

	approvalWf := approval.New(st, auditLog, log)
	congressEng := congress.New(st, signalEng, log)
	reconciler := reconcile.New(st, execBroker, auditLog, log)
	whatifEng := whatif.New(st, pricingSvc, log)
	outcomeEng := outcome.New(st, pricingSvc, log)

	backupMgr, err := backup.New(st, cfg.BackupDir, cfg.BackupS3Bucket, cfg.BackupKeepDays, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize backup manager")
	}

	orch := orchestrator.New(st, execBroker, pricingSvc, riskMgr, approvalWf, signalEng, auditLog, log)

	sched := scheduler.New(st, log)
	sched.Start()
	defer sched.Stop()

	ctx := context.Background()
	if err := scheduler.RegisterDefaultJobs(ctx, sched, scheduler.Jobs{
		Store:      st,
		Broker:     execBroker,
		Pricing:    pricingSvc,
		Discovery:  discoveryEng,
		Congress:   congressEng,
		Thesis:     thesisEng,
		Signal:     signalEng,
		Risk:       riskMgr,
		WhatIf:     whatifEng,
		Outcome:    outcomeEng,
		Principles: principlesEng,
		Reconciler: reconciler,
		Backup:     backupMgr,
		Log:        log,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to register scheduled jobs")
	}

	report, err := orch.Startup(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("startup checks failed")
	}
	log.Info().
		Bool("store_ok", report.StoreOK).
		Bool("broker_ok", report.BrokerOK).
		Str("broker_warning", report.BrokerWarning).
		Bool("risk_limits_present", report.RiskLimitsPresent).
		Bool("kill_switch_active", report.KillSwitchActive).
		Int("pending_signals", report.PendingSignals).
		Float64("cpu_percent", report.Health.CPUPercent).
		Float64("memory_percent", report.Health.MemoryPercent).
		Msg("startup diagnostics complete")

	srv := server.New(server.Config{
		Port:         cfg.Port,
		Log:          log,
		Store:        st,
		Signal:       signalEng,
		Approval:     approvalWf,
		Orchestrator: orch,
		WhatIf:       whatifEng,
		DevMode:      cfg.Mode != "live",
	})

	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("stopped")
}
