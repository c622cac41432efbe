package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/outreach/internal/config"
	"github.com/foxzi/outreach/internal/dkim"
	"github.com/foxzi/outreach/internal/intent"
	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/mail"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/reply"
)

// buildRouter registers a sender and optional inbox per configured provider
func buildRouter(cfg *config.Config, logger *slog.Logger) (*mail.Router, error) {
	router := mail.NewRouter(cfg.Orchestrator.SendTimeout, logger)

	for _, p := range cfg.Providers {
		plog := logger.With("provider", p.ID)

		sender, err := buildSender(p, plog)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.ID, err)
		}

		var fetcher mail.Fetcher
		if p.IMAP != nil {
			tls := p.IMAP.TLS == nil || *p.IMAP.TLS
			fetcher = mail.NewIMAPFetcher(p.ID, mail.IMAPConfig{
				Host:        p.IMAP.Host,
				Port:        p.IMAP.Port,
				Username:    p.IMAP.Username,
				Password:    p.IMAP.Password,
				TLS:         tls,
				Timeout:     p.IMAP.Timeout,
				MaxMessages: p.IMAP.MaxMessages,
			}, plog)
		}

		router.Register(p.ID, sender, fetcher)
		plog.Info("mail provider registered", "type", p.Type, "inbound", fetcher != nil)
	}

	return router, nil
}

func buildSender(p config.ProviderConfig, logger *slog.Logger) (mail.Sender, error) {
	apiCfg := mail.APIConfig{
		APIKey:   p.APIKey,
		BaseURL:  p.BaseURL,
		From:     p.From,
		FromName: p.FromName,
	}

	switch p.Type {
	case config.ProviderSMTP:
		var signer *dkim.Signer
		if p.DKIM != nil && p.DKIM.Enabled {
			var err error
			signer, err = dkim.LoadSigner(p.DKIM.KeyFile, p.DKIM.Domain, p.DKIM.Selector)
			if err != nil {
				return nil, err
			}
			logger.Info("DKIM signing enabled", "domain", p.DKIM.Domain, "selector", p.DKIM.Selector)
		}
		return mail.NewSMTPSender(p.ID, mail.SMTPConfig{
			Host:               p.SMTP.Host,
			Port:               p.SMTP.Port,
			Username:           p.SMTP.Username,
			Password:           p.SMTP.Password,
			TLS:                p.SMTP.TLS,
			From:               p.From,
			FromName:           p.FromName,
			HelloName:          p.SMTP.HelloName,
			Timeout:            p.SMTP.Timeout,
			InsecureSkipVerify: p.SMTP.InsecureSkipVerify,
		}, signer, logger), nil
	case config.ProviderSendGrid:
		return mail.NewSendGridSender(p.ID, apiCfg, logger), nil
	case config.ProviderResend:
		return mail.NewResendSender(p.ID, apiCfg, logger)
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}

// buildLLM returns nil when the completion endpoint is disabled
func buildLLM(cfg config.LLMConfig, logger *slog.Logger) (llm.Client, time.Duration) {
	if !cfg.Enabled {
		logger.Info("llm disabled, using rule-based classification and templates")
		return nil, 0
	}
	logger.Info("llm enabled", "model", cfg.Model, "base_url", cfg.BaseURL)
	return llm.NewOpenAIClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}), cfg.Timeout
}

// Classifiers builds the reply and intent classifiers from configuration
// without opening storage
func Classifiers(cfg *config.Config) (*reply.Classifier, *intent.Classifier) {
	logger := setupLogger(cfg.Logging)
	client, timeout := buildLLM(cfg.LLM, logger)
	return buildClassifiers(client, timeout, logger)
}

func buildClassifiers(client llm.Client, timeout time.Duration, logger *slog.Logger) (*reply.Classifier, *intent.Classifier) {
	replyOpts := []reply.Option{reply.WithLogger(logger)}
	intentOpts := []intent.Option{
		intent.WithLogger(logger),
		intent.WithFallbackHook(func(reason string) { metrics.IncLLMFallback("intent") }),
	}
	if client != nil {
		replyOpts = append(replyOpts, reply.WithLLM(client, timeout))
		intentOpts = append(intentOpts, intent.WithLLM(client, timeout))
	}
	return reply.NewClassifier(replyOpts...), intent.NewClassifier(intentOpts...)
}
