// Command relayd runs the in-memory relay, a development stand-in for the
// model service gateway.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/agenthands/loom/internal/observability"
	"github.com/agenthands/loom/internal/relay"
)

func main() {
	// .env is optional; absence just means defaults.
	_ = godotenv.Load()

	logger := observability.InitLogger("relayd", os.Getenv("LOOM_LOG_LEVEL"))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	r := relay.New(logger)
	router := r.SetupRouter()

	logger.Info().Str("port", port).Msg("relay listening")
	if err := router.Run(":" + port); err != nil {
		logger.Fatal().Err(err).Msg("relay stopped")
	}
}
