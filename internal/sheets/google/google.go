package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	applog "bilancio/internal/log"
	ports "bilancio/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const (
	// DefaultSheetBase is the movements sheet name without the year prefix.
	DefaultSheetBase = "Movimenti"

	keyCacheSize = 10000
	keyCacheTTL  = 24 * time.Hour
)

// Options configures the Sheets mirror.
type Options struct {
	SpreadsheetID string
	// SheetBase is prefixed with the movement year, e.g. "2024 Movimenti".
	SheetBase string
	// Service account credentials, inline JSON or a file path.
	CredentialsJSON string
	CredentialsFile string
}

// valuesAPI is the subset of the Sheets values API the mirror needs.
type valuesAPI interface {
	Get(ctx context.Context, rng string) ([][]any, error)
	Update(ctx context.Context, rng string, rows [][]any) error
}

// Client mirrors ledger movements into a yearly sheet. Every row carries
// a key in column F; rows whose key is already present are never written
// again, so redelivered sync messages are harmless.
type Client struct {
	values        valuesAPI
	spreadsheetID string
	sheetBase     string
	logger        *applog.Logger

	// mu serializes read-then-write of the sheet.
	mu   sync.Mutex
	keys *cache.LRUCache[struct{}]
}

// Ensure interface conformance
var _ ports.MovementMirror = (*Client)(nil)

// New creates a Sheets mirror authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return newClient(&sheetsValues{svc: svc, spreadsheetID: spreadsheetID}, spreadsheetID, opts.SheetBase), nil
}

func newClient(values valuesAPI, spreadsheetID, sheetBase string) *Client {
	if strings.TrimSpace(sheetBase) == "" {
		sheetBase = DefaultSheetBase
	}
	return &Client{
		values:        values,
		spreadsheetID: spreadsheetID,
		sheetBase:     strings.TrimSpace(sheetBase),
		logger:        applog.Default(applog.ComponentSheets),
		keys:          cache.NewLRUCache[struct{}](keyCacheSize, keyCacheTTL),
	}
}

// WithLogger replaces the client logger.
func (c *Client) WithLogger(logger *applog.Logger) *Client {
	if logger != nil {
		c.logger = logger.WithComponent(applog.ComponentSheets)
	}
	return c
}

// KeyCache exposes the known-key cache for periodic cleanup.
func (c *Client) KeyCache() *cache.LRUCache[struct{}] {
	return c.keys
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Falls back to GOOGLE_APPLICATION_CREDENTIALS when no credentials are configured.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials(opts)
	if err != nil {
		return nil, err
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func loadCredentials(opts Options) ([]byte, error) {
	inline := strings.TrimSpace(opts.CredentialsJSON)
	file := strings.TrimSpace(opts.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// newHTTPClientWithPooling creates an HTTP client optimized for Google Sheets API
// with connection pooling, proper timeouts, and keep-alive settings
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// MirrorMovement appends the movement items missing from the sheet of the
// movement's year and returns how many rows were written.
func (c *Client) MirrorMovement(ctx context.Context, m core.Movement) (int, error) {
	if c.values == nil {
		return 0, errors.New("sheets service not initialized")
	}
	if err := m.Date.Validate(); err != nil {
		return 0, fmt.Errorf("movement %d: %w", m.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows := movementRows(m)
	pending := c.unknown(rows)
	if len(pending) == 0 {
		return 0, nil
	}

	sheet := yearPrefixedName(c.sheetBase, m.Date.Year())
	keyCol, err := c.values.Get(ctx, fmt.Sprintf("%s!F:F", sheet))
	if err != nil {
		return 0, fmt.Errorf("read keys of sheet %s: %w", sheet, err)
	}
	for _, row := range keyCol {
		if len(row) == 0 {
			continue
		}
		if k := strings.TrimSpace(fmt.Sprint(row[0])); k != "" {
			c.keys.Set(k, struct{}{})
		}
	}

	pending = c.unknown(pending)
	if len(pending) == 0 {
		return 0, nil
	}

	// Next row after the last used row of column F
	nextRow := len(keyCol) + 1
	lastRow := nextRow + len(pending) - 1
	values := make([][]any, len(pending))
	for i, r := range pending {
		values[i] = r.values()
	}

	rng := fmt.Sprintf("%s!A%d:F%d", sheet, nextRow, lastRow)
	if err := c.values.Update(ctx, rng, values); err != nil {
		return 0, fmt.Errorf("write %s: %w", rng, err)
	}
	for _, r := range pending {
		c.keys.Set(r.Key, struct{}{})
	}

	c.logger.InfoContext(ctx, "Mirrored movement to Google Sheets",
		applog.FieldMovementID, m.ID,
		applog.FieldMovementDate, m.Date.String(),
		applog.FieldVersion, m.Version,
		applog.FieldSheetsRef, rng,
		"rows", len(pending))

	return len(pending), nil
}

// unknown filters rows whose key is not cached. Callers hold mu.
func (c *Client) unknown(rows []row) []row {
	out := make([]row, 0, len(rows))
	for _, r := range rows {
		if _, ok := c.keys.Get(r.Key); !ok {
			out = append(out, r)
		}
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

// sheetsValues adapts the generated Sheets service to valuesAPI.
type sheetsValues struct {
	svc           *gsheet.Service
	spreadsheetID string
}

func (v *sheetsValues) Get(ctx context.Context, rng string) ([][]any, error) {
	resp, err := v.svc.Spreadsheets.Values.Get(v.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (v *sheetsValues) Update(ctx context.Context, rng string, rows [][]any) error {
	vr := &gsheet.ValueRange{Values: rows}
	_, err := v.svc.Spreadsheets.Values.Update(v.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return err
}
