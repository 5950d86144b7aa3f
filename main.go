package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Iris/internal"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/joho/godotenv"
)

// main loads the user configuration (from the YAML file given with
// -config, falling back to environment variables when the file does
// not exist), then constructs and runs Iris until an interrupt or
// SIGTERM is received.
func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", ".iris/config.yaml", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose logging output")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	config := internal.IrisConfig{}
	if _, err := os.Stat(*configPath); err == nil {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Panicf("Failed to load Iris configuration - %v\n", err.Error())
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Panicf("Failed to load Iris configuration from environment - %v\n", err.Error())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Panicf("Iris exited with error - %v\n", err.Error())
	}
}
