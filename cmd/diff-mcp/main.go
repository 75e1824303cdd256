package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ironsheep/image-diff-mcp/internal/config"
	"github.com/ironsheep/image-diff-mcp/internal/ocr"
	"github.com/ironsheep/image-diff-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("image-diff-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("image-diff-mcp - MCP server for screenshot diffing and change recognition")
			fmt.Println()
			fmt.Println("Usage: image-diff-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  DIFF_MCP_LOG_LEVEL=debug          Enable debug logging")
			fmt.Println("  DIFF_MCP_RECOGNIZER_URL=<url>     Remote recognition service endpoint")
			fmt.Println("  DIFF_MCP_RECOGNIZER_TOKEN=<tok>   Bearer token for the remote service")
			fmt.Println("  DIFF_MCP_OCR_LOCAL=true           Run Tesseract in-process instead")
			fmt.Println("  DIFF_MCP_OCR_LANGUAGE=eng         Tesseract language code")
			fmt.Println()
			fmt.Println("Without a recognition backend the diff and clustering tools still")
			fmt.Println("work; only image_diff_recognize is disabled.")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	// Logging goes to stderr; stdout carries the MCP protocol.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// A .env file is optional; the system environment always applies.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("version", Version).
		Str("commit", GitCommit).
		Msg("starting image-diff-mcp")

	srv := server.New().
		WithOrchestratorConfig(cfg.Orchestrator()).
		WithCropOptions(cfg.Crop())

	switch {
	case cfg.RecognizerURL != "":
		srv = srv.WithRecognizer(ocr.NewClient(cfg.RecognizerURL, cfg.RecognizerToken, cfg.RecognizerTimeout))
		log.Info().Str("url", cfg.RecognizerURL).Msg("using remote recognition service")
	case cfg.LocalOCR:
		srv = srv.WithRecognizer(ocr.NewLocal(cfg.OCRLanguage))
		log.Info().Str("language", cfg.OCRLanguage).Msg("using local Tesseract recognition")
	default:
		log.Info().Msg("no recognition backend configured; image_diff_recognize is disabled")
	}

	// SIGINT/SIGTERM cancel in-flight tool calls and stop the loop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
