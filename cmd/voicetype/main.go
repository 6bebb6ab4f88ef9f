package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	voicetype "github.com/voicetype-io/voicetype"
	"github.com/voicetype-io/voicetype/providers"
)

func main() {
	var configPath = flag.String("config", "", "Path to YAML config file (optional)")
	var providerName = flag.String("provider", "", "Recognition provider, overrides the config file")
	var outputPath = flag.String("output", "", "Output file path for transcriptions (optional)")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lshortfile)

	cfg, err := voicetype.LoadConfig(*configPath)
	if err != nil {
		logger.Printf("Failed to load config: %v\n", err)
		return
	}
	if *providerName != "" {
		cfg.Provider = *providerName
	}

	creds := cfg.RecognizerCredentials()
	if !voicetype.ValidateCredentials(cfg.Provider, creds) {
		logger.Printf("Missing credentials for provider %q\n", cfg.Provider)
		return
	}

	recognitionConfig, err := cfg.RecognitionConfig()
	if err != nil {
		logger.Printf("Invalid audio config: %v\n", err)
		return
	}

	recognizer, err := voicetype.New(cfg.Provider, recognitionConfig, creds)
	if err != nil {
		logger.Printf("Failed to create recognizer: %v\n", err)
		return
	}
	defer recognizer.Cleanup()

	// Setup output file if specified
	var bufWriter *bufio.Writer
	if *outputPath != "" {
		outputFile, err := os.Create(*outputPath)
		if err != nil {
			logger.Printf("Failed to create output file: %v\n", err)
			return
		}
		defer outputFile.Close()

		bufWriter = bufio.NewWriter(outputFile)
		defer bufWriter.Flush()
	}

	recognizer.SetResultCallback(func(result providers.RecognitionResult) {
		timestamp := result.ReceivedAt.Format("15:04:05")
		line := fmt.Sprintf("[%s] %s\n", timestamp, result.Text)

		fmt.Print(line)

		if bufWriter != nil {
			if _, err := bufWriter.WriteString(line); err != nil {
				logger.Printf("Failed to write to output file: %v\n", err)
			} else {
				bufWriter.Flush()
			}
		}
	})

	fmt.Printf("Provider: %s. Press Enter to start/stop recording, Ctrl+C to quit.\n", cfg.Provider)

	// Toggle recording on Enter, exit on interrupt.
	toggles := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			toggles <- struct{}{}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var recordingStart time.Time
	for {
		select {
		case <-toggles:
			if recognizer.IsRecording() {
				if recognizer.Stop() {
					fmt.Printf("Recorded %v of audio.\n", time.Since(recordingStart).Round(time.Second))
				}
			} else {
				if recognizer.Start() {
					recordingStart = time.Now()
					fmt.Println("Recording... Press Enter to stop.")
				} else {
					fmt.Println("Failed to start recording, see log.")
				}
			}
		case <-sig:
			if recognizer.IsRecording() {
				recognizer.Stop()
			}
			fmt.Println("\nDone.")
			return
		}
	}
}
