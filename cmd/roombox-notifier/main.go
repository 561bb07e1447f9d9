package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "github.com/H51976/roombox-fyp/common/logger"
	"github.com/H51976/roombox-fyp/common/mqtt"
	rediscommon "github.com/H51976/roombox-fyp/common/redis"
	"github.com/H51976/roombox-fyp/internal/config"
	"github.com/H51976/roombox-fyp/internal/consumer"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "roombox-notifier")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting roombox-notifier service")

	redisClient := rediscommon.NewRedisClient(&cfg.Redis.RedisConfig)
	defer rediscommon.Close(redisClient)
	if err := rediscommon.Ping(context.Background(), redisClient, 5*time.Second); err != nil {
		log.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	mqttClient, err := mqtt.NewClient(&cfg.MQTT.MQTTConfig, log)
	if err != nil {
		log.Fatal("Failed to connect to MQTT broker", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
	}
	defer mqttClient.Disconnect()

	notifier := consumer.NewNotificationConsumer(redisClient, mqttClient, log, consumer.Options{
		Stream:       cfg.Events.Stream,
		GroupName:    cfg.Events.ConsumerGroup,
		ConsumerName: cfg.Events.ConsumerName,
		BatchSize:    cfg.Events.BatchSize,
		TopicPrefix:  cfg.Notify.TopicPrefix,
		QoS:          cfg.MQTT.QoS,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- notifier.Start(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil {
			log.Error("Notifier error", zap.Error(err))
		}
		cancel()
	}

	log.Info("Service stopped")
}
