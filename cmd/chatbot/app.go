package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mdp/qrterminal/v3"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/api"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/dispatch"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/email"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/flow"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/lockfile"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/messaging"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/metrics"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/otp"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/scheduler"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/store"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/turn"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/twiliowhatsapp"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/whatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// run wires every component and blocks until ctx is cancelled or a component fails.
func run(ctx context.Context, config Config) error {
	if err := ensureDirectoriesExist(config); err != nil {
		return err
	}

	if config.needsLockfile() {
		lock, err := lockfile.AcquireLock(config.StateDir)
		if err != nil {
			return fmt.Errorf("another instance is using %s: %w", config.StateDir, err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("Failed to release lock file", "error", err)
			}
		}()
	}

	st, err := store.Open(buildStoreOptions(config)...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	added, err := st.SeedFAQs(ctx, store.DefaultFAQs())
	if err != nil {
		return fmt.Errorf("seed faqs: %w", err)
	}
	slog.Debug("FAQ catalog seeded", "added", added)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	coordinator, closeCoordinator, err := buildCoordinator(ctx, config)
	if err != nil {
		return err
	}
	defer closeCoordinator()

	svc, closeTransport, err := buildTransport(ctx, config)
	if err != nil {
		return err
	}
	defer closeTransport()

	mailer, err := buildEmailSender(config)
	if err != nil {
		return err
	}

	engine := flow.NewEngine(st, flow.WithPolicy(otp.NewPolicy(otp.WithCooldown(config.OTPCooldown))))
	dispatcher := dispatch.New(svc, mailer, st, dispatch.WithMetrics(m))
	handler := messaging.NewResponseHandler(svc, st, engine, dispatcher,
		messaging.WithDedup(st),
		messaging.WithMetrics(m),
		messaging.WithCoordinator(coordinator))

	server := api.NewServer(handler, buildAPIOptions(config, reg, st)...)

	if config.PrintQR {
		printDeepLinkQR(os.Stdout, config)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := svc.Start(gctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	handler.Start(gctx)

	g.Go(func() error { return server.Run(gctx) })

	if config.DailyUpdateCron != "" {
		sched := scheduler.NewScheduler()
		if err := sched.AddDailyUpdate(gctx, config.DailyUpdateCron, handler); err != nil {
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		if err := svc.Stop(); err != nil {
			slog.Warn("Failed to stop transport", "error", err)
		}
		handler.Wait()
		return nil
	})

	return g.Wait()
}

// ensureDirectoriesExist creates the state directory and the SQLite file's parent.
func ensureDirectoriesExist(config Config) error {
	if !config.usesSQLite() && config.Transport != TransportWhatsmeow {
		return nil
	}
	dirs := []string{config.StateDir}
	if config.usesSQLite() && config.DatabaseURL != "" {
		dirs = append(dirs, filepath.Dir(config.DatabaseURL))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// buildCoordinator returns a Redis-backed coordinator when REDIS_URL is set so that
// several instances serialize turns for the same identity.
func buildCoordinator(ctx context.Context, config Config) (*turn.Coordinator, func(), error) {
	if config.RedisURL == "" {
		slog.Debug("Using in-process turn coordinator")
		return turn.NewCoordinator(), func() {}, nil
	}
	client, err := turn.NewRedisClient(ctx, config.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	slog.Info("Using Redis turn coordinator")
	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	}
	return turn.NewCoordinator(turn.WithRemoteLocker(turn.NewRedisLocker(client))), closeFn, nil
}

// buildTransport constructs the messaging service selected by config.Transport.
func buildTransport(ctx context.Context, config Config) (messaging.Service, func(), error) {
	switch config.Transport {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(config)...)
		if err != nil {
			return nil, nil, fmt.Errorf("create twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), func() {}, nil
	case TransportWhatsmeow:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(config)...)
		if err != nil {
			return nil, nil, fmt.Errorf("create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), client.Disconnect, nil
	case TransportLog:
		slog.Warn("Using log transport, outbound messages are not delivered")
		return messaging.NewLogService(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", config.Transport)
	}
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioNumber))
	}
	return opts
}

// buildWhatsAppOptions constructs WhatsApp client options
func buildWhatsAppOptions(config Config) []whatsapp.Option {
	var opts []whatsapp.Option
	if config.WhatsAppDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(config.WhatsAppDSN))
	}
	if config.QROutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(config.QROutput))
	}
	if config.NumericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildEmailSender returns an SMTP sender, or a logging sender when SMTP is not configured.
func buildEmailSender(config Config) (dispatch.EmailSender, error) {
	if config.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set, verification emails will only be logged")
		return email.LogSender{}, nil
	}
	opts := []email.Option{email.WithHost(config.SMTPHost)}
	if config.SMTPPort > 0 {
		opts = append(opts, email.WithPort(config.SMTPPort))
	}
	if config.SMTPUser != "" {
		opts = append(opts, email.WithCredentials(config.SMTPUser, config.SMTPPass))
	}
	if config.EmailFrom != "" {
		opts = append(opts, email.WithFrom(config.EmailFrom))
	}
	sender, err := email.NewSMTPSender(opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp sender: %w", err)
	}
	return sender, nil
}

// buildAPIOptions constructs API server options
func buildAPIOptions(config Config, gatherer prometheus.Gatherer, faqs store.FAQCatalog) []api.Option {
	opts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithGreeting(config.Greeting),
		api.WithGatherer(gatherer),
		api.WithHealthCheck(func(ctx context.Context) error {
			_, err := faqs.ListFAQs(ctx)
			return err
		}),
	}
	if config.BotNumber != "" {
		opts = append(opts, api.WithBotNumber(config.BotNumber))
	}
	if config.TwilioWebhookURL != "" && config.TwilioAuthToken != "" {
		slog.Info("Twilio signature validation enabled", "webhook_url", config.TwilioWebhookURL)
		opts = append(opts, api.WithSignatureValidation(
			twiliowhatsapp.NewSignatureValidator(config.TwilioAuthToken), config.TwilioWebhookURL))
	}
	return opts
}

// printDeepLinkQR renders the wa.me link for the bot number so a phone can scan it.
func printDeepLinkQR(w io.Writer, config Config) {
	link, err := api.DeepLink(config.BotNumber, config.Greeting)
	if err != nil {
		slog.Warn("Cannot print chat QR code", "error", err)
		return
	}
	fmt.Fprintf(w, "Scan to chat with the bot: %s\n", link)
	qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
}
