package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fkie-cad/honeypots/internal/config"
	"github.com/fkie-cad/honeypots/internal/creds"
	"github.com/fkie-cad/honeypots/internal/dicom"
	"github.com/fkie-cad/honeypots/internal/event"
	"github.com/fkie-cad/honeypots/internal/hl7"
	"github.com/fkie-cad/honeypots/internal/observability"
	"github.com/fkie-cad/honeypots/internal/sink"
)

const version = "0.3.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "honeypotd",
		Short: "Medical protocol deception endpoints",
		Long: `honeypotd presents DICOM and HL7/MLLP deception endpoints and
records every observed interaction as a normalized audit event.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.toml")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("honeypotd " + version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	observability.InitLogger("honeypotd")
	observability.RegisterMetrics()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		log.Info().Str("path", configPath).Msg("loaded config")
	}

	events, closeSinks, err := buildSink(cfg.Sinks)
	if err != nil {
		return err
	}
	defer closeSinks()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)

	if cfg.DICOM.Enabled {
		checker := dicomChecker(cfg.DICOM)
		srv := dicom.NewServer(dicom.Config{
			AETitle:          cfg.DICOM.AETitle,
			ArtifactDir:      cfg.DICOM.ArtifactDir,
			StoreImages:      cfg.DICOM.StoreImages,
			MaxPDULength:     cfg.DICOM.MaxPDULength,
			SuppressedEvents: cfg.DICOM.SuppressedEvents,
		}, events, checker)
		if err := serve(ctx, "dicom", cfg.DICOM.Addr, srv.Serve, errCh); err != nil {
			return err
		}
	}

	if cfg.HL7.Enabled {
		srv := hl7.NewServer(hl7.Config{
			SuppressedEvents: cfg.HL7.SuppressedEvents,
		}, events)
		if err := serve(ctx, "hl7", cfg.HL7.Addr, srv.Serve, errCh); err != nil {
			return err
		}
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Addr, errCh)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func serve(ctx context.Context, name, addr string, fn func(net.Listener) error, errCh chan<- error) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", l.Addr().String()).Msgf("%s endpoint listening", name)
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	go func() {
		if err := fn(l); err != nil {
			errCh <- err
		}
	}()
	return nil
}

func serveMetrics(ctx context.Context, addr string, errCh chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}

func dicomChecker(cfg config.DICOMConfig) event.CredentialChecker {
	if cfg.Username == "" {
		return creds.RejectAll{}
	}
	return creds.Static{Username: cfg.Username, Secret: cfg.Password}
}

func buildSink(cfg config.SinksConfig) (event.Sink, func(), error) {
	var sinks []event.Sink
	var closers []func()

	if cfg.Stdout {
		sinks = append(sinks, sink.NewStdout())
	}
	if cfg.File.Path != "" {
		fs := sink.NewFile(sink.FileConfig{
			Path:       cfg.File.Path,
			MaxSizeMB:  cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAgeDays: cfg.File.MaxAgeDays,
		})
		sinks = append(sinks, fs)
		closers = append(closers, func() { fs.Close() })
	}
	if cfg.SQLite.Path != "" {
		db, err := sink.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, db)
		closers = append(closers, func() { db.Close() })
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	return sink.NewTee(sinks...), closeAll, nil
}
