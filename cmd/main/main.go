package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"finance-relay/src/agent/gemini"
	"finance-relay/src/config"
	"finance-relay/src/interfaces"
	"finance-relay/src/logger"
	"finance-relay/src/market"
	"finance-relay/src/market/polygon"
	"finance-relay/src/server"
	"finance-relay/src/utils"

	"github.com/joho/godotenv"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// .env is optional, real deployments use the environment directly
	godotenv.Load()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.LogLevel, config.Name)

	// Missing keys degrade behavior, they do not prevent startup
	if os.Getenv(config.Agent.APIKeyEnv) == "" {
		appLogger.Warning("%s not set, AI turns will fail until it is provided", config.Agent.APIKeyEnv)
	}
	if os.Getenv(config.MarketData.APIKeyEnv) == "" {
		appLogger.Warning("%s not set, charts will use synthetic data only", config.MarketData.APIKeyEnv)
	}

	// 2. Market data pipeline
	calendar := utils.NewTradingCalendar()
	synth := market.NewSyntheticGenerator(config.MarketData.SyntheticSeed, calendar, appLogger)

	var provider interfaces.IBarProvider = polygon.NewPolygonSource(
		os.Getenv(config.MarketData.APIKeyEnv),
		time.Duration(config.MarketData.RequestTimeoutSeconds)*time.Second,
		appLogger,
	)
	var fetcher interfaces.IMarketData = market.NewFetcher(config.MarketData, provider, synth, appLogger)

	// 3. AI collaborator
	var agent interfaces.IAgent = gemini.NewGeminiAgent(config.Agent, appLogger)

	// 4. Relay wiring
	registry := server.NewRegistry(appLogger)
	relay := server.NewRelay(config.MConfig, appLogger, registry, agent, fetcher)
	srv := server.NewRelayServer(config.MConfig, appLogger, relay)

	// 5. Serve until the process is killed
	if err := srv.Start(); err != nil {
		appLogger.Critical("Server stopped: %v", err)
	}
}
