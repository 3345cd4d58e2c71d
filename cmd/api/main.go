package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
	"github.com/imrishuroy/go-cardpay-gateway/internal/config"
	"github.com/imrishuroy/go-cardpay-gateway/internal/handlers"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/metrics"
	"github.com/imrishuroy/go-cardpay-gateway/internal/payments"
)

const metricsFlushInterval = 30 * time.Second

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg := logging.NewJSON(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	rec := metrics.NewRecorder(clients.CloudWatch, cfg.AWS.MetricsNamespace, lg)
	go rec.Run(ctx, metricsFlushInterval)

	svc, err := payments.FromConfig(cfg, clients, lg, rec)
	if err != nil {
		log.Fatalf("failed to build payment core: %v", err)
	}

	r := setupRouter(handlers.HandlerConfig{
		Service:             svc,
		Logger:              lg,
		WebhookMaxBodyBytes: cfg.Webhook.MaxBodyBytes,
	})

	// if RUN_LOCAL is set, run a local HTTP server for development.
	if cfg.RunLocal {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Printf("running local server on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		if ferr := rec.Flush(ctx); ferr != nil {
			log.Printf("metrics flush failed: %v", ferr)
		}
		return resp, err
	})
}
