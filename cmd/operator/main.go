package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// A stand-in regional carrier for local runs. Point an operator provider
// config's endpoints at it.
func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	gin.SetMode(getEnv("GIN_MODE", gin.ReleaseMode))

	port := getEnv("PORT", "8081")
	opts := Options{
		DeliveryRate: getEnvFloat("DELIVERY_RATE", 0.95),
		MinDelay:     getEnvDuration("MIN_DELAY", 50*time.Millisecond),
		MaxDelay:     getEnvDuration("MAX_DELAY", 500*time.Millisecond),
		Downtime:     getEnvFloat("DOWNTIME", 0),
		Async:        getEnv("ASYNC", "") == "true",
		CallbackURL:  getEnv("CALLBACK_URL", ""),
	}

	log.Info().
		Str("port", port).
		Float64("delivery_rate", opts.DeliveryRate).
		Dur("min_delay", opts.MinDelay).
		Dur("max_delay", opts.MaxDelay).
		Bool("async", opts.Async).
		Msg("starting mock sms operator")

	operator := NewMockOperator(opts)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(NewHandler(operator)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	operator.Wait()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
