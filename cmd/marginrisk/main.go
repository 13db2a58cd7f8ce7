package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/wyfcoding/marginrisk/internal/margin/application"
	"github.com/wyfcoding/marginrisk/internal/margin/infrastructure/client"
	"github.com/wyfcoding/marginrisk/internal/margin/infrastructure/messaging"
	"github.com/wyfcoding/marginrisk/internal/margin/infrastructure/persistence/mysql"
	margin_http "github.com/wyfcoding/marginrisk/internal/margin/interfaces/http"
	"github.com/wyfcoding/pkg/logging"
	"golang.org/x/sync/errgroup"
	gorm_mysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/marginrisk/config.toml", "path to config file")
	flag.Parse()

	// 1. Config
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Sprintf("read config failed: %v", err))
	}

	// 2. Logger
	logger := logging.NewLogger("marginrisk", "main", viper.GetString("log.level"))
	slog.SetDefault(logger.Logger)

	// 3. Database
	dsn := viper.GetString("database.source")
	db, err := gorm.Open(gorm_mysql.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		panic(fmt.Sprintf("connect db failed: %v", err))
	}
	if err := db.AutoMigrate(
		&mysql.AccountModel{},
		&mysql.PositionModel{},
		&mysql.RiskLimitsModel{},
		&mysql.LiquidationEventModel{},
		&mysql.FundingRateModel{},
	); err != nil {
		panic(fmt.Sprintf("migrate db failed: %v", err))
	}

	// 4. Infrastructure
	accountRepo := mysql.NewAccountRepository(db)
	positionRepo := mysql.NewPositionRepository(db)
	limitsRepo := mysql.NewRiskLimitsRepository(db)
	liquidationRepo := mysql.NewLiquidationEventRepository(db)
	fundingRepo := mysql.NewFundingRateRepository(db)

	httpTimeout := 5 * time.Second
	exchange := client.NewExchangeClient(viper.GetString("services.exchange"), httpTimeout)
	ledger := client.NewLedgerClient(viper.GetString("services.ledger"), httpTimeout)
	riskModel := client.NewRiskModelClient(viper.GetString("services.risk_model"), httpTimeout)
	venue := client.NewExecutionClient(viper.GetString("services.execution"), httpTimeout)

	events := messaging.NewKafkaEventSink(
		viper.GetStringSlice("kafka.brokers"),
		viper.GetString("kafka.topic"),
	)
	defer events.Close()

	// 5. Application
	locker := application.NewAccountLocker()
	limits := application.NewRiskLimitsRegistry(limitsRepo)
	validator := application.NewRiskValidator(positionRepo, exchange, riskModel)
	accountSvc := application.NewAccountService(accountRepo, limits, ledger, events, locker)
	positionSvc := application.NewPositionService(accountRepo, positionRepo, limits, exchange, ledger, events, venue, validator, locker)
	liquidationEngine := application.NewLiquidationEngine(accountRepo, positionRepo, liquidationRepo, exchange, ledger, events, locker)
	riskMonitor := application.NewRiskMonitor(accountRepo, positionRepo, exchange, events, locker)

	annualRate := decimal.NewFromFloat(viper.GetFloat64("funding.annual_interest_rate"))
	fundingSvc := application.NewFundingService(accountRepo, positionRepo, fundingRepo, exchange, locker, annualRate)

	// 6. Interfaces
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "UP"}) })
		sys.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "READY"}) })
	}
	pp := r.Group("/debug/pprof")
	{
		pp.GET("/", gin.WrapF(pprof.Index))
		pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pp.GET("/profile", gin.WrapF(pprof.Profile))
		pp.GET("/symbol", gin.WrapF(pprof.Symbol))
		pp.GET("/trace", gin.WrapF(pprof.Trace))
	}

	api := r.Group("/api/v1")
	margin_http.NewHandler(accountSvc, positionSvc, liquidationEngine, fundingSvc, limits).RegisterRoutes(api)

	// 7. Start
	g, ctx := errgroup.WithContext(context.Background())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error { return liquidationEngine.Start(ctx) })
	g.Go(func() error { return riskMonitor.Start(ctx) })
	g.Go(func() error { return fundingSvc.Start(ctx) })

	httpPort := viper.GetString("server.http_port")
	if httpPort == "" {
		httpPort = "8094"
	}
	server := &http.Server{Addr: ":" + httpPort, Handler: r}
	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 8. Graceful Shutdown
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down servers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}
