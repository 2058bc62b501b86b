// Package jobs contains the gateway's background loops. Each job owns its
// ticker and exits on context cancellation or Stop.
//
// key_expiry_notifier.go implements KeyExpiryNotifier, which periodically
// scans for API keys approaching their expiry date and emails the owners of
// the holding organization. Notification state is persisted in the database
// (expiry_notified_at column) so a key is warned about exactly once even
// across server restarts. The job is a no-op when notifications.enabled is
// false or when the SMTP host is not configured, so it is always safe to
// start regardless of deployment environment.
package jobs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/smp-platform/access-gateway/internal/config"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/telemetry"
)

// KeyExpiryNotifier periodically warns organization owners about API keys
// that are about to expire.
type KeyExpiryNotifier struct {
	keys     *repositories.APIKeyRepository
	members  *repositories.MembershipRepository
	cfg      *config.NotificationsConfig
	interval time.Duration
	stopChan chan struct{}
}

// NewKeyExpiryNotifier creates a new KeyExpiryNotifier. The check interval
// comes from notifications.key_expiry_check_interval_hours (default 24h).
func NewKeyExpiryNotifier(
	keys *repositories.APIKeyRepository,
	members *repositories.MembershipRepository,
	cfg *config.NotificationsConfig,
) *KeyExpiryNotifier {
	hours := cfg.KeyExpiryCheckIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return &KeyExpiryNotifier{
		keys:     keys,
		members:  members,
		cfg:      cfg,
		interval: time.Duration(hours) * time.Hour,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background expiry-notification loop. It runs an initial
// check immediately, then repeats on the configured interval. The loop exits
// when ctx is cancelled or Stop is called.
func (n *KeyExpiryNotifier) Start(ctx context.Context) {
	if !n.cfg.Enabled {
		slog.Info("key expiry notifier disabled", "reason", "notifications.enabled=false")
		return
	}
	if n.cfg.SMTP.Host == "" {
		slog.Info("key expiry notifier disabled", "reason", "notifications.smtp.host not set")
		return
	}

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	slog.Info("key expiry notifier started",
		"check_interval", n.interval,
		"warning_days", n.warningDays())

	// Run once immediately on startup
	n.runCheck(ctx)

	for {
		select {
		case <-ticker.C:
			n.runCheck(ctx)
		case <-n.stopChan:
			slog.Info("key expiry notifier stopped")
			return
		case <-ctx.Done():
			slog.Info("key expiry notifier context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (n *KeyExpiryNotifier) Stop() {
	close(n.stopChan)
}

func (n *KeyExpiryNotifier) warningDays() int {
	if n.cfg.KeyExpiryWarningDays > 0 {
		return n.cfg.KeyExpiryWarningDays
	}
	return 7
}

// runCheck queries for expiring keys and emails each holding organization's
// owners.
func (n *KeyExpiryNotifier) runCheck(ctx context.Context) {
	keys, err := n.keys.FindExpiringKeys(ctx, n.warningDays())
	if err != nil {
		slog.Error("key expiry notifier: failed to query expiring keys", "error", err)
		return
	}

	if len(keys) == 0 {
		return
	}

	slog.Info("key expiry notifier: keys approaching expiry", "count", len(keys))

	for _, key := range keys {
		owners, err := n.members.ListOwnerEmails(ctx, key.OrganizationID)
		if err != nil {
			slog.Error("key expiry notifier: could not list owners",
				"organization_id", key.OrganizationID, "key_id", key.ID, "error", err)
			continue
		}
		if len(owners) == 0 {
			// Orphaned org: a key with nobody to warn. Mark it so the scan
			// does not pick it up forever.
			slog.Warn("key expiry notifier: organization has no owners",
				"organization_id", key.OrganizationID, "key_id", key.ID)
			if err := n.keys.MarkExpiryNotificationSent(ctx, key.ID); err != nil {
				slog.Error("key expiry notifier: failed to mark notification sent",
					"key_id", key.ID, "error", err)
			}
			continue
		}

		if err := n.sendExpiryEmail(owners, key.Name, key.KeyPrefix, *key.ExpiresAt); err != nil {
			slog.Error("key expiry notifier: failed to send email",
				"key_id", key.ID, "recipients", len(owners), "error", err)
			continue
		}

		telemetry.APIKeyExpiryNotificationsSentTotal.Inc()

		if err := n.keys.MarkExpiryNotificationSent(ctx, key.ID); err != nil {
			slog.Error("key expiry notifier: failed to mark notification sent",
				"key_id", key.ID, "error", err)
		}
	}
}

// sendExpiryEmail composes and delivers a plain-text warning email to all
// organization owners via SMTP.
func (n *KeyExpiryNotifier) sendExpiryEmail(to []string, keyName, keyPrefix string, expiresAt time.Time) error {
	daysLeft := int(time.Until(expiresAt).Hours()/24) + 1
	if daysLeft < 0 {
		daysLeft = 0
	}

	subject := fmt.Sprintf("Action Required: API key '%s' expires in %d day(s)", keyName, daysLeft)
	body := strings.Join([]string{
		"Hello,",
		"",
		fmt.Sprintf("The API key '%s' (%s...) issued for your organization will expire on %s (%d day(s) from now).",
			keyName, keyPrefix, expiresAt.UTC().Format(time.RFC1123), daysLeft),
		"",
		"To avoid failing requests, issue a replacement before the expiry date:",
		"  1. Sign in to the dashboard.",
		"  2. Open your organization's API Keys page.",
		"  3. Create a new key and update every service that presents the old one.",
		"  4. Revoke the old key once nothing depends on it.",
		"",
		"If the key is no longer needed, no action is required.",
		"",
		"— SMP Access Gateway",
	}, "\r\n")

	smtpCfg := &n.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, strings.Join(to, ", "), subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	auth := smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)

	if smtpCfg.UseTLS {
		return sendMailTLS(addr, smtpCfg.Host, auth, smtpCfg.From, to, msg)
	}
	return smtp.SendMail(addr, auth, smtpCfg.From, to, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// Use this when UseTLS=true and the port is 465; for port 587 STARTTLS,
// smtp.SendMail handles the upgrade automatically, but we call this path for
// both so the config is unambiguous: UseTLS=true always means an encrypted connection.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path (port 587 pattern)
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := c.Rcpt(addr); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", addr, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
