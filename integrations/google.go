package integrations

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chxlky/trello-signoff/internal/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TransferNotice tells a repository's previous owner who took it over.
type TransferNotice struct {
	PreviousOwnerEmail string
	NewOwnerEmail      string
	RepoFullName       string
}

type Notifier interface {
	NotifyTransfer(ctx context.Context, notice TransferNotice) error
}

// NewNotifier returns a Gmail notifier when a service account and sender are
// configured, and a log-only notifier otherwise.
func NewNotifier(ctx context.Context, cfg config.GoogleConfig, logger *zap.Logger) (Notifier, error) {
	if len(cfg.ServiceAccount) == 0 || cfg.Sender == "" {
		logger.Info("Google service account not configured; transfer notices will only be logged")
		return NewLogNotifier(logger), nil
	}
	return NewGmailNotifier(ctx, cfg, logger)
}

type GmailNotifier struct {
	service *gmail.Service
	sender  string
	logger  *zap.Logger
}

func NewGmailNotifier(ctx context.Context, cfg config.GoogleConfig, logger *zap.Logger) (*GmailNotifier, error) {
	jsonBytes, err := json.Marshal(cfg.ServiceAccount)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal service account settings to JSON: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(jsonBytes, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account credentials from JSON: %w", err)
	}
	// send as the sender mailbox via domain-wide delegation
	jwtConfig.Subject = cfg.Sender

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Gmail client: %w", err)
	}

	return &GmailNotifier{service: srv, sender: cfg.Sender, logger: logger}, nil
}

func (g *GmailNotifier) NotifyTransfer(ctx context.Context, notice TransferNotice) error {
	if notice.PreviousOwnerEmail == "" {
		return errors.New("transfer notice has no recipient")
	}

	raw := buildTransferMessage(g.sender, notice)
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}

	sent, err := g.service.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return fmt.Errorf("gmail rejected transfer notice (HTTP %d): %w", gerr.Code, err)
		}
		return fmt.Errorf("unable to send transfer notice: %w", err)
	}

	g.logger.Info("Sent repository transfer notice",
		zap.String("repo", notice.RepoFullName),
		zap.String("messageID", sent.Id),
	)
	return nil
}

// LogNotifier records transfer notices without delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) NotifyTransfer(_ context.Context, notice TransferNotice) error {
	l.logger.Info("Repository transferred",
		zap.String("repo", notice.RepoFullName),
		zap.String("previousOwner", notice.PreviousOwnerEmail),
		zap.String("newOwner", notice.NewOwnerEmail),
	)
	return nil
}

func buildTransferMessage(sender string, notice TransferNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", sender)
	fmt.Fprintf(&b, "To: %s\r\n", notice.PreviousOwnerEmail)
	fmt.Fprintf(&b, "Subject: %s has been transferred\r\n", notice.RepoFullName)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s has taken over product signoff for %s.\r\n", notice.NewOwnerEmail, notice.RepoFullName)
	b.WriteString("Its webhook now reports to their account, and you will no longer manage it.\r\n")
	return b.String()
}
