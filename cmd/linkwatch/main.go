package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/lattice-sec/linkwatch/internal/coordinator"
	"github.com/lattice-sec/linkwatch/internal/logger"
)

const (
	defaultSettingsPath = "/etc/linkwatch/settings.json"
	defaultOUIPath      = "/etc/linkwatch/oui.txt"
	defaultRegistryPath = "/var/lib/linkwatch/registry.json"
	defaultLogFile      = "/var/log/linkwatch/linkwatch.log"
	defaultLogLevel     = "info"
	version             = "1.0.0"
)

var (
	settingsPath = flag.String("settings", defaultSettingsPath, "Path to settings JSON file")
	ouiPath      = flag.String("oui", defaultOUIPath, "Path to the converted PREFIX6:vendor OUI file")
	registryPath = flag.String("registry", defaultRegistryPath, "Path to device registry JSON file")
	logFile      = flag.String("log-file", defaultLogFile, "Path to log file (empty logs to stderr only)")
	logLevel     = flag.String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")
	showVersion  = flag.Bool("version", false, "Show version information")
	showHelp     = flag.Bool("help", false, "Show help information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("linkwatch v%s\n", version)
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC: %v", r)
			log.Printf("Stack trace:\n%s", debug.Stack())
			os.Exit(1)
		}
	}()

	if err := logger.Initialize(*logFile, *logLevel); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}

	logger.Info("=== linkwatch v%s ===", version)

	coord := coordinator.New(coordinator.Config{
		SettingsPath: *settingsPath,
		OUIPath:      *ouiPath,
		RegistryPath: *registryPath,
	})

	if err := coord.Start(); err != nil {
		logger.Error("failed to start: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.Info("received signal: %v", sig)

	if err := coord.Stop(); err != nil {
		logger.Error("error during shutdown: %v", err)
		os.Exit(1)
	}

	logger.Info("linkwatch exited cleanly")
}

func printHelp() {
	fmt.Printf("linkwatch v%s\n\n", version)
	fmt.Println("Usage:")
	fmt.Printf("  %s [options]\n\n", os.Args[0])
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println("\nDescription:")
	fmt.Println("  linkwatch discovers devices on the local network, classifies them,")
	fmt.Println("  and can intercept or block individual devices' traffic via ARP/NDP")
	fmt.Println("  spoofing, on a schedule or by manual toggle.")
}
