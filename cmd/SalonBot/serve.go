package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BTreeMap/SalonBot/internal/activation"
	"github.com/BTreeMap/SalonBot/internal/api"
	"github.com/BTreeMap/SalonBot/internal/config"
	"github.com/BTreeMap/SalonBot/internal/conversation"
	"github.com/BTreeMap/SalonBot/internal/lockfile"
	"github.com/BTreeMap/SalonBot/internal/messaging"
	"github.com/BTreeMap/SalonBot/internal/models"
	"github.com/BTreeMap/SalonBot/internal/notify"
	"github.com/BTreeMap/SalonBot/internal/session"
	"github.com/BTreeMap/SalonBot/internal/store"
	"github.com/BTreeMap/SalonBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/SalonBot/internal/whatsapp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and answer messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.transport, "transport", "", "messaging transport: whatsapp or twilio (overrides $SALONBOT_TRANSPORT)")
	f.StringVar(&a.apiAddr, "api-addr", "", "admin API address (overrides $API_ADDR)")
	f.StringVar(&a.whatsappDSN, "whatsapp-dsn", "", "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	f.StringVar(&a.qrOutput, "qr-output", "", "path to write login QR code")
	f.BoolVar(&a.numeric, "numeric-code", false, "print the raw pairing code instead of a QR code")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(cfg.StateDir, "serve")
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(store.WithDSN(cfg.StoreDSN()))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	transport, webhook, err := a.buildTransport(ctx, cfg)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer notifier.Close()

	retry := session.DefaultRetryPolicy()
	gate := activation.NewGate(st, buildGateOptions(cfg, st, retry)...)
	directory := session.NewDirectory(st, gate, conversation.NewEngine(), transport,
		session.NewClassifier(st, transport),
		session.WithNotifier(notifier),
		session.WithTypingDelay(cfg.TypingDelay),
		session.WithRetryPolicy(retry),
		session.WithLocation(loc),
	)

	// Handlers keep running after shutdown starts so queued messages are answered.
	dispatcher := session.NewDispatcher(context.WithoutCancel(ctx), func(ctx context.Context, evt models.InboundEvent) {
		directory.Handle(ctx, evt)
	})

	apiOpts := []api.Option{api.WithPendingFunc(dispatcher.Pending)}
	if webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(webhook.WebhookHandler))
	}
	server := api.NewServer(st, apiOpts...)

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	slog.Info("SalonBot started", "transport", cfg.Transport, "api_addr", cfg.APIAddr, "state_dir", cfg.StateDir)

	err = runServices(ctx, transport, dispatcher, func(ctx context.Context) error {
		return server.Run(ctx, cfg.APIAddr)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("SalonBot stopped with error", "error", err)
		return err
	}
	slog.Info("SalonBot exited successfully")
	return nil
}

// errInboundClosed is returned when the transport closes Inbound before shutdown was requested.
var errInboundClosed = errors.New("transport closed its inbound channel")

// runServices feeds the dispatcher from the transport and runs serveAPI until ctx is done
// or either fails. The transport is stopped only after the dispatcher has drained, so
// replies to queued messages can still be sent.
func runServices(ctx context.Context, transport messaging.Transport, dispatcher *session.Dispatcher, serveAPI func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := dispatcher.Run(gctx, transport.Inbound())
		stopErr := transport.Stop()
		if err == nil && gctx.Err() == nil {
			err = errInboundClosed
		}
		if err != nil {
			return err
		}
		return stopErr
	})
	g.Go(func() error {
		return serveAPI(gctx)
	})
	return g.Wait()
}

// buildTransport returns the configured transport. For Twilio the service is also returned
// so its webhook can be mounted on the admin API.
func (a *app) buildTransport(ctx context.Context, cfg config.Config) (messaging.Transport, *messaging.TwilioService, error) {
	switch cfg.Transport {
	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if cfg.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(cfg.TwilioAuthToken, cfg.TwilioWebhookURL))
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set; inbound webhook signatures will not be validated")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, svc, nil
	default:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg, a.qrOutput, a.numeric)...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	}
}

func buildWhatsAppOptions(cfg config.Config, qrOutput string, numeric bool) []whatsapp.Option {
	opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppStoreDSN())}
	if qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(qrOutput))
	}
	if numeric {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

// buildGateOptions applies configured keywords and cooldown and retries activation writes.
func buildGateOptions(cfg config.Config, st store.Store, retry session.RetryPolicy) []activation.Option {
	opts := []activation.Option{
		activation.WithCooldown(cfg.Cooldown),
		activation.WithWriter(func(ctx context.Context, rec models.ActivationRecord) error {
			return retry.Do(ctx, "save-activation", func() error { return st.SaveActivation(ctx, rec) })
		}),
	}
	var keywords []string
	for _, k := range cfg.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) > 0 {
		opts = append(opts, activation.WithKeywords(keywords))
	}
	return opts
}

func newNotifier(natsURL string) (notify.Publisher, error) {
	if natsURL == "" {
		slog.Info("NATS_URL not set; operator notices will only be logged")
		return notify.LogPublisher{}, nil
	}
	p, err := notify.NewNATSPublisher(natsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return p, nil
}
