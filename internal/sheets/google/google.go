// Package google exports transactions to a Google Sheets spreadsheet, one
// sheet per local calendar year.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finboard/internal/core"
	"finboard/internal/daily"
	"finboard/internal/log"
	"finboard/internal/sheets"
)

var _ sheets.TransactionExporter = (*Client)(nil)

// Options configures the exporter.
type Options struct {
	SpreadsheetID string
	// SheetName is the base name; the year is prefixed, e.g. "2024 Transactions".
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	Zone            daily.Zone
	// ClientOptions are passed to the Sheets service after the credentials.
	ClientOptions []goption.ClientOption
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	zone          daily.Zone
	logger        *log.Logger

	mu     sync.Mutex
	titles map[string]bool
}

// New creates a Sheets exporter authenticated with a service account.
func New(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	base := strings.TrimSpace(opts.SheetName)
	if base == "" {
		base = "Transactions"
	}

	svc, err := newSheetsService(ctx, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     base,
		zone:          opts.Zone,
		logger:        logger,
	}, nil
}

func newSheetsService(ctx context.Context, opts Options, logger *log.Logger) (*gsheet.Service, error) {
	var clientOpts []goption.ClientOption

	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		logger.InfoContext(ctx, "Using inline service account credentials")
		clientOpts = append(clientOpts, goption.WithCredentialsJSON([]byte(opts.CredentialsJSON)))
	case strings.TrimSpace(opts.CredentialsFile) != "":
		logger.InfoContext(ctx, "Reading service account credentials", "path", opts.CredentialsFile)
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		clientOpts = append(clientOpts, goption.WithCredentialsJSON(data))
	case len(opts.ClientOptions) == 0:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	clientOpts = append(clientOpts, goption.WithScopes(gsheet.SpreadsheetsScope))
	clientOpts = append(clientOpts, opts.ClientOptions...)

	svc, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// Export writes the transaction's row to the sheet of its local year,
// replacing the existing row for the same id.
func (c *Client) Export(ctx context.Context, tx core.Transaction) (string, error) {
	row, err := sheets.NewRow(tx, c.zone)
	if err != nil {
		return "", err
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.sheetBase, row.Year())
	if err := c.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	ids, err := c.readIDs(ctx, sheet)
	if err != nil {
		return "", err
	}
	rowNum, found := findRow(ids, row.ID)
	if !found {
		rowNum = len(ids) + 1
	}

	rng := a1(sheet, fmt.Sprintf("A%d:F%d", rowNum, rowNum))
	vr := &gsheet.ValueRange{Values: [][]any{row.Values()}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("write %s: %w", rng, err)
	}

	c.logger.DebugContext(ctx, "Exported transaction row",
		log.FieldTransactionID, row.ID,
		log.FieldSheetsRef, rng,
		"replaced", found)
	return rng, nil
}

// Remove clears the row of id in every yearly sheet that has one.
func (c *Client) Remove(ctx context.Context, id int64) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	titles, err := c.sheetTitles(ctx)
	if err != nil {
		return err
	}

	removed := 0
	for _, sheet := range titles {
		if !c.ownsSheet(sheet) {
			continue
		}
		ids, err := c.readIDs(ctx, sheet)
		if err != nil {
			return err
		}
		rowNum, ok := findRow(ids, id)
		if !ok {
			continue
		}
		rng := a1(sheet, fmt.Sprintf("A%d:F%d", rowNum, rowNum))
		if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
			return fmt.Errorf("clear %s: %w", rng, err)
		}
		removed++
	}

	if removed == 0 {
		c.logger.DebugContext(ctx, "No exported row to remove", log.FieldTransactionID, id)
	}
	return nil
}

func (c *Client) readIDs(ctx context.Context, sheet string) ([]string, error) {
	rng := a1(sheet, "A:A")
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	ids := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			ids[i] = strings.TrimSpace(fmt.Sprint(row[0]))
		}
	}
	return ids, nil
}

// findRow returns the 1-based row holding id.
func findRow(ids []string, id int64) (int, bool) {
	want := strconv.FormatInt(id, 10)
	for i, v := range ids {
		if v == want {
			return i + 1, true
		}
	}
	return 0, false
}

func (c *Client) sheetTitles(ctx context.Context) ([]string, error) {
	resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet: %w", err)
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}

	c.mu.Lock()
	c.titles = make(map[string]bool, len(titles))
	for _, t := range titles {
		c.titles[t] = true
	}
	c.mu.Unlock()
	return titles, nil
}

// ensureSheet creates the yearly sheet with its header on first use.
func (c *Client) ensureSheet(ctx context.Context, sheet string) error {
	c.mu.Lock()
	known := c.titles[sheet]
	c.mu.Unlock()
	if known {
		return nil
	}

	titles, err := c.sheetTitles(ctx)
	if err != nil {
		return err
	}
	for _, t := range titles {
		if t == sheet {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheet, err)
	}

	rng := a1(sheet, "A1:F1")
	vr := &gsheet.ValueRange{Values: [][]any{sheets.Header}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header %s: %w", rng, err)
	}

	c.mu.Lock()
	c.titles[sheet] = true
	c.mu.Unlock()
	c.logger.InfoContext(ctx, "Created yearly sheet", "sheet", sheet)
	return nil
}

// ownsSheet reports whether sheet is one of this exporter's yearly sheets.
func (c *Client) ownsSheet(sheet string) bool {
	if sheet == c.sheetBase {
		return true
	}
	if len(sheet) < 5 || sheet[4] != ' ' {
		return false
	}
	if _, err := strconv.Atoi(sheet[:4]); err != nil {
		return false
	}
	return sheet[5:] == c.sheetBase
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
	if year == 0 {
		year = time.Now().Year()
	}
	return fmt.Sprintf("%d %s", year, base)
}

// a1 builds an A1 range, quoting the sheet name.
func a1(sheet, cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(sheet, "'", "''"), cells)
}
