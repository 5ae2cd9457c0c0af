package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/app"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/config"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/transport/lambdatransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	rt, err := app.Bootstrap(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	defer rt.Close()

	h := lambdatransport.NewHandler(rt.Service)
	lambda.Start(h.Handle)
}
