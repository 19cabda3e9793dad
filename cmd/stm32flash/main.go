package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synthread/go-an3155/internal/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `usage: stm32flash [flags] <command> [args]

commands:
  info                       print bootloader version, commands and product id (default)
  flash [-address A] [-skip-verify] [-no-progress] <file>
                             erase, write and verify a raw firmware image
  erase [-bank global|bank1|bank2]
                             erase the whole flash or one bank
  go [-address A]            jump to the code at address

flags:
`

func main() {
	configFile := flag.String("config", "", "path to a YAML config file")
	port := flag.String("port", "", "serial port connected to the bootloader")
	baud := flag.Int("baud", 0, "baud rate")
	timeout := flag.Duration("timeout", 0, "read timeout")
	skipInit := flag.Bool("skip-init", false, "skip baud rate synchronization for an already synced bootloader")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	metricsFile := flag.String("metrics-textfile", "", "write prometheus metrics to this file when done")
	showVersion := flag.Bool("version", false, "print version information")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("stm32flash %s (build: %s)\n", Version, BuildTime)
		return
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
			os.Exit(1)
		}
	}

	// flags win over the config file
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *baud > 0 {
		cfg.Serial.BaudRate = *baud
	}
	if *timeout > 0 {
		cfg.Serial.Timeout = *timeout
	}
	if *skipInit {
		cfg.Serial.SkipInitialization = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *metricsFile != "" {
		cfg.Metrics.Textfile = *metricsFile
	}

	log := setupLogger(cfg.Log)

	a, err := newApp(cfg, log)
	if err != nil {
		log.Fatalf("could not set up: %v", err)
	}

	err = a.run(flag.Args())
	a.finish()
	if err != nil {
		log.Fatal(err)
	}
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}

	switch {
	case cfg.Output == "file" && cfg.FilePath != "":
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("could not open log file: %v, using stderr", err)
		}
	case cfg.Output == "stdout":
		log.SetOutput(os.Stdout)
	default:
		log.SetOutput(os.Stderr)
	}

	return log
}
