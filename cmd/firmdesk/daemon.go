package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firmdesk/firmdesk/internal/audit"
	"github.com/firmdesk/firmdesk/internal/auth"
	"github.com/firmdesk/firmdesk/internal/calendar"
	"github.com/firmdesk/firmdesk/internal/compliance"
	"github.com/firmdesk/firmdesk/internal/config"
	"github.com/firmdesk/firmdesk/internal/mail"
	"github.com/firmdesk/firmdesk/internal/reconcile"
	"github.com/firmdesk/firmdesk/internal/store"
	"github.com/spf13/cobra"
)

var configPath string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the firmdesk daemon",
	Long:  `Starts the firmdesk daemon which provides the HTTP API and the reconciliation endpoint.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "firmdesk.yaml", "Path to the config file")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	auditLogger := audit.New(s)

	// Without a Google token the calendar and mail collaborators degrade
	// to no-ops; task bookkeeping keeps working.
	var cal calendar.Calendar = calendar.Noop{}
	var mailer mail.Mailer = mail.Noop{}
	if cfg.GoogleToken != "" {
		cal = calendar.NewGoogleClient(cfg.GoogleToken, cfg.Calendar)
		if cfg.MailFrom != "" {
			mailer = mail.NewGmailClient(cfg.GoogleToken, cfg.MailFrom)
		} else {
			log.Println("BOT_FROM not set, outbound mail disabled")
		}
	} else {
		log.Println("GOOGLE_OAUTH_TOKEN not set, calendar and mail disabled")
	}

	service := compliance.New(s, auditLogger, cal, mailer, cfg.Calendar, cfg.MailSignature)

	driver := reconcile.New(s, auditLogger, mailer, reconcile.Config{
		Window:         cfg.Calendar,
		TimeZone:       cfg.TimeZone,
		Signature:      cfg.MailSignature,
		DigestSubject:  cfg.Digest.Subject,
		FirmRecipients: cfg.Digest.FirmRecipients,
		ReportDir:      cfg.ReportDir,
	})

	server := compliance.NewServer(
		service,
		auth.NewStoreVerifier(s),
		cfg.CronSecret,
		func(force bool) (any, error) { return driver.Run(force) },
		cfg.ListenAddr,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			s.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
