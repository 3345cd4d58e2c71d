package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
	"github.com/imrishuroy/go-cardpay-gateway/internal/config"
	"github.com/imrishuroy/go-cardpay-gateway/internal/idempotency"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/metrics"
	"github.com/imrishuroy/go-cardpay-gateway/internal/payments"
	"github.com/imrishuroy/go-cardpay-gateway/internal/reconcile"
)

// idempotencyTTL keeps reconciliation records long enough to cover SQS
// retention plus DLQ redrives.
const idempotencyTTL = 14 * 24 * time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	lg := logging.NewJSON(os.Stdout, cfg.LogLevel)

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	rec := metrics.NewRecorder(clients.CloudWatch, cfg.AWS.MetricsNamespace, lg)
	svc, err := payments.FromConfig(cfg, clients, lg, rec)
	if err != nil {
		log.Fatalf("failed to build payment core: %v", err)
	}
	idemp := idempotency.NewStore(clients.DynamoDB, cfg.AWS.IdempotencyTable, idempotencyTTL)
	proc := reconcile.NewProcessor(idemp, svc.S2S, lg)

	handle := func(ctx context.Context, ev events.SQSEvent) error {
		log.Printf("[worker] received %d SQS messages", len(ev.Records))
		err := proc.Handle(ctx, ev)
		if ferr := rec.Flush(ctx); ferr != nil {
			log.Printf("[worker] metrics flush failed: %v", ferr)
		}
		return err
	}

	// If RUN_LOCAL=true, process a single message from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			log.Fatalf("LOCAL_SQS_BODY must hold a reconciliation task when RUN_LOCAL=true")
		}
		ev := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		if err := handle(ctx, ev); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(handle)
}
