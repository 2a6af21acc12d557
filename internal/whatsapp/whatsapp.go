// Package whatsapp wraps the whatsmeow client behind the small sending surface
// the intake bot needs: connect (logging in with a QR or numeric code on first
// run), send a text to a patient, and expose the event stream for inbound
// messages.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/footcare-clinic/intakebot/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	// DefaultSQLitePath holds the whatsmeow device credentials when no DSN is
	// configured.
	DefaultSQLitePath = "/var/lib/intakebot/whatsmeow.db"
	// JIDSuffix is the server part of a patient's WhatsApp JID.
	JIDSuffix = "s.whatsapp.net"
)

// WhatsAppSender is the sending capability the messaging service depends on;
// Client implements it against the real network, MockClient for tests.
type WhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts configures the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow credential store DSN
	QRPath      string // file to write the login QR code to, stdout when empty
	NumericCode bool   // print a numeric pairing code instead of a QR code
}

// Option configures the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets where whatsmeow keeps its device credentials.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to the given path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints a numeric pairing code instead of rendering a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client is a thin wrapper over a connected whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient opens the whatsmeow credential store, connects, and runs the
// pairing flow when the device has no stored login.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = DefaultSQLitePath
		slog.Debug("whatsapp.NewClient: no credential store DSN configured, using default", "path", dsn)
	}

	// The credential store backend follows the DSN, same as the main store.
	driver := "sqlite3"
	if store.DetectDSNType(dsn) == store.DSNTypePostgres {
		driver = "postgres"
	} else if !strings.Contains(dsn, "foreign_keys") {
		// whatsmeow requires foreign keys on its SQLite schema.
		slog.Warn("whatsapp.NewClient: SQLite DSN without foreign keys, add '?_foreign_keys=on'", "dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}

	ctx := context.Background()
	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("opening whatsmeow credential store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading whatsmeow device: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := pairDevice(waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("whatsapp.NewClient: device already paired, connecting")
		if err := waClient.Connect(); err != nil {
			return nil, fmt.Errorf("connecting to WhatsApp: %w", err)
		}
	}

	slog.Info("whatsapp.NewClient: client connected")
	return &Client{waClient: waClient}, nil
}

// pairDevice runs the first-run login flow, rendering pairing codes until the
// phone confirms the link.
func pairDevice(waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp.pairDevice: no stored login, starting pairing flow")
	qrChan, _ := waClient.GetQRChannel(context.Background())
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("connecting to WhatsApp for pairing: %w", err)
	}

	out := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("creating QR output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Debug("whatsapp.pairDevice: pairing event", "event", evt.Event)
			fmt.Println("Login event:", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(out, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		}
	}
	return nil
}

// SendMessage delivers a text message to a patient's phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(to, JIDSuffix)
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("Client.SendMessage: send failed", "error", err, "to", to)
		return fmt.Errorf("sending message to %s: %w", to, err)
	}
	slog.Debug("Client.SendMessage: message sent", "to", to, "body_length", len(body))
	return nil
}

// GetClient exposes the underlying whatsmeow client so the messaging service
// can register event handlers for inbound messages.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockClient is a no-op WhatsAppSender for tests.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	return nil
}
