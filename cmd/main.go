package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pickupmarket/order-service/internal/app"
	"github.com/pickupmarket/order-service/internal/config"
	"github.com/pickupmarket/order-service/internal/events"
	"github.com/pickupmarket/order-service/internal/handler"
	"github.com/pickupmarket/order-service/internal/migrations"
	"github.com/pickupmarket/order-service/internal/postgres"
	"github.com/pickupmarket/order-service/internal/repo"
	"github.com/pickupmarket/order-service/internal/service"
	"github.com/pickupmarket/order-service/internal/sweep"
	"github.com/pickupmarket/order-service/pkg/cache"
	"github.com/pickupmarket/order-service/pkg/trm"
)

func main() {
	conf := config.New()
	logger := newLogger(conf.Env)
	panicIfErr("invalid config", conf.Validate())

	db, err := postgres.New(conf.Postgres)
	panicIfErr("failed to connect to db", err)
	defer db.Close()
	logger.Info("postgres connected")

	panicIfErr("failed to run migrations", migrations.Run(db.DB))

	orderRepo := repo.NewOrderRepo(db)
	shopRepo := repo.NewShopRepo(db)
	productRepo := repo.NewProductRepo(db)
	txManager := trm.NewManager(db)
	shopCache := cache.NewLRUCache(conf.Cache.Capacity, conf.Cache.TTL)

	publisher := events.NewPublisher(logger, conf.Kafka)

	capacity := service.NewCapacityController(logger, shopRepo, shopCache, publisher)
	limiter := service.NewBuyerLimiter(conf.Admission.BuyerRateInterval, conf.Admission.BuyerRateBurst)
	admission := service.NewAdmissionService(
		logger, txManager, orderRepo, shopRepo, productRepo, capacity, publisher, limiter, conf.Admission,
	)
	receipts := service.NewAsyncReceipts(logger)
	lifecycle := service.NewLifecycleService(
		logger, txManager, orderRepo, shopRepo, productRepo, publisher, receipts, conf.Admission,
	)

	sweeper := sweep.NewRunner(logger, conf.Sweep.Interval,
		sweep.NewExpirySweep(logger, txManager, orderRepo, capacity, publisher, conf.Sweep.BatchSize),
		sweep.NewPromoSweep(logger, productRepo),
		sweep.NewWindowSweep(logger, shopRepo, capacity),
	)

	httpHandler := handler.NewHTTPHandler(logger, admission, lifecycle, capacity)

	app := app.New(logger, conf)
	app.SetHTTPHandlers(httpHandler)
	app.SetStarters(shopCache, publisher, sweeper)
	app.SetClosers(publisher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	panicIfErr("failed to start app", app.Start(ctx))
	<-ctx.Done()
	panicIfErr("failed to stop app", app.Stop())
}

func init() {
	godotenv.Load()
}

func newLogger(env string) *slog.Logger {
	switch env {
	case "production":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

func panicIfErr(prefix string, err error) {
	if err != nil {
		panic(prefix + ": " + err.Error())
	}
}
