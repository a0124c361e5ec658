// gcode-host runs the G-code coordinate-transform engine with a simulated
// motion executor. It reads commands from stdin, one per line, and serves a
// Moonraker-style status API for frontends.
//
// Usage:
//
//	gcode-host [options]
//
// Options:
//
//	-api string       Status API server address (default ":7125")
//	-logfile string   Log file path (default: stderr)
//	-log-level string Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Interactive session with API on the default port
//	gcode-host
//
//	# Pipe a job through the engine
//	gcode-host -api :7126 < job.gcode
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gcode-host/pkg/api"
	"gcode-host/pkg/gcode"
	"gcode-host/pkg/log"
	"gcode-host/pkg/toolhead"
)

func main() {
	apiAddr := flag.String("api", ":7125", "Status API server address")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	rootLogger := log.New("gcodehost")
	rootLogger.SetLevel(log.ParseLevel(*logLevel))
	if *logFile != "" {
		writer, err := log.NewRotatingFileWriter(log.RotationConfig{Filename: *logFile})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer writer.Close()
		rootLogger.SetWriter(writer)
		rootLogger.SetColorize(false)
	}
	log.SetDefaultLogger(rootLogger)
	logger := log.GetLogger("main")

	logger.Info("========================================")
	logger.Info("GCode Host Starting")
	logger.Info("========================================")

	th := toolhead.New(nil)
	move := gcode.NewMove(nil, th)
	dispatcher := gcode.NewDispatcher(move, nil)
	move.HandleReady(th)

	server := api.New(api.Config{
		Addr:   *apiAddr,
		Source: api.NewHostAdapter(dispatcher, th),
	})
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server stopped")
		}
	}()
	logger.Info("status API listening on %s", *apiAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	doneCh := make(chan struct{})

	// Command REPL on stdin.
	go func() {
		defer close(doneCh)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			out, err := dispatcher.ExecuteLine(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "!! %v\n", err)
				continue
			}
			if out != "" {
				fmt.Println(out)
			}
			fmt.Println("ok")
		}
	}()

	select {
	case <-sigCh:
		logger.Info("signal received, shutting down")
	case <-doneCh:
		logger.Info("stdin closed, shutting down")
	}

	move.HandleShutdown()
	if err := server.Stop(); err != nil {
		logger.WithError(err).Warn("API server shutdown error")
	}
	logger.Info("GCode Host stopped")
}
