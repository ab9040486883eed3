// cmd/transcribe-check runs the transcription engine against a single audio
// file without any of the queue or store infrastructure. Useful for verifying
// a model and binary installation before starting workers.
//
// Usage:
//
//	./transcribe-check -input sample.mp3
//	./transcribe-check -ready            # check binary and model only
//	./transcribe-check -input sample.mp3 -timeout 300
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"audioscribe/internal/config"
	"audioscribe/internal/transcribe"
)

func main() {
	input := flag.String("input", "", "Input audio file path")
	ready := flag.Bool("ready", false, "Check engine readiness only (don't transcribe)")
	timeout := flag.Int("timeout", 180, "Transcription timeout in seconds")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	engine := transcribe.NewEngine(cfg.WhisperBin, cfg.WhisperModel, cfg.WhisperLanguage)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()

	if err := engine.Ready(ctx); err != nil {
		log.Fatalf("engine not ready: %v", err)
	}
	fmt.Printf("engine ready: bin=%s model=%s\n", cfg.WhisperBin, cfg.WhisperModel)
	if *ready {
		return
	}

	if *input == "" {
		fmt.Println("Error: -input flag is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*input); err != nil {
		log.Fatalf("input file: %v", err)
	}

	start := time.Now()
	text, err := engine.Transcribe(ctx, *input)
	if err != nil {
		log.Fatalf("transcription failed: %v", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("transcribed %s in %v\n\n", *input, elapsed.Round(time.Millisecond))
	fmt.Println(text)
}
