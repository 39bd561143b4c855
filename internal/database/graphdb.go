package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/torspider/internal/model"
	"github.com/nao1215/torspider/internal/tor"
)

// FileName is the name of the database file inside the database directory.
const FileName = "torspider.db"

// timeLayout is how timestamps are stored. SQLite has no time type; this is
// the format its own datetime() functions produce.
const timeLayout = "2006-01-02 15:04:05"

// ErrDatabaseNotFound is returned by Open when CreateIfNotExists is false and
// there is no database file.
var ErrDatabaseNotFound = errors.New("database not found")

// GraphDB is the persistent graph of domains, pages and domain-to-domain links.
// All writes go through a mutex, and RecordCrawl writes one crawl inside a
// single transaction, so concurrent crawls never interleave their rows.
//
// Design decision: one database file holds every crawl ever made. Domains
// are keyed by their canonical name and never deleted, so a resume run and
// the graph reader both see the whole history. Offline domains keep their
// rows with online = 0.
//
// Schema:
//   - onions: one row per domain (online flag, last successful scan, info)
//   - pages: one row per (domain, path); title and hash stay NULL until fetched
//   - links: one row per (from, to) domain pair; self-loops are rejected
type GraphDB struct {
	// db is the underlying connection pool, limited to one connection
	// because SQLite has a single writer.
	db *sql.DB

	// dbPath is the path of the SQLite file.
	dbPath string

	// logger receives rows that failed and were skipped.
	logger *slog.Logger

	// mu serializes writes across goroutines.
	mu sync.Mutex
}

// Options configures GraphDB behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool

	// Logger receives per-row storage failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the graph database in dbDir.
func Open(dbDir string, opts Options) (*GraphDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	mode := "rwc"
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	} else {
		if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
		mode = "rw"
	}
	dsn := dbPath + "?mode=" + mode + "&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &GraphDB{db: db, dbPath: dbPath, logger: logger}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := g.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return g, nil
}

// Path returns the database file path.
func (g *GraphDB) Path() string {
	return g.dbPath
}

// Close closes the database connection.
func (g *GraphDB) Close() error {
	return g.db.Close()
}

func (g *GraphDB) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS onions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		domain TEXT NOT NULL UNIQUE,
		online INTEGER NOT NULL DEFAULT 1,
		last_scan TEXT NOT NULL DEFAULT '1986-02-02 00:00:01',
		info TEXT NOT NULL DEFAULT 'none'
	);

	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT,
		domain_id INTEGER NOT NULL REFERENCES onions(id),
		url TEXT NOT NULL,
		hash TEXT,
		last_scan TEXT NOT NULL DEFAULT '1986-02-02 00:00:01',
		UNIQUE(domain_id, url)
	);

	CREATE TABLE IF NOT EXISTS links (
		domain_id INTEGER NOT NULL REFERENCES onions(id),
		link_id INTEGER NOT NULL REFERENCES onions(id),
		UNIQUE(domain_id, link_id),
		CHECK(domain_id != link_id)
	);

	CREATE INDEX IF NOT EXISTS idx_onions_online ON onions(online, last_scan);
	CREATE INDEX IF NOT EXISTS idx_links_target ON links(link_id);
	`

	_, err := g.db.ExecContext(ctx, schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertDomain records a scan result for a domain, creating the row if
// needed. It returns the domain id.
func (g *GraphDB) UpsertDomain(ctx context.Context, name string, online bool, scannedAt time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return upsertDomain(ctx, g.db, name, online, scannedAt)
}

func upsertDomain(ctx context.Context, ex execer, name string, online bool, scannedAt time.Time) (int64, error) {
	name = model.CanonicalDomain(name)
	const query = `
	INSERT INTO onions (domain, online, last_scan, info)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(domain) DO UPDATE SET
		online = excluded.online,
		last_scan = excluded.last_scan
	`
	_, err := ex.ExecContext(ctx, query, name, online, formatTime(scannedAt), string(tor.DescribeDomain(name)))
	if err != nil {
		return 0, fmt.Errorf("failed to upsert domain %q: %w", name, err)
	}
	return domainID(ctx, ex, name)
}

// EnsureDomain inserts a domain observed as a link target. An existing row
// is left untouched. It returns the domain id.
func (g *GraphDB) EnsureDomain(ctx context.Context, name string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ensureDomain(ctx, g.db, name)
}

func ensureDomain(ctx context.Context, ex execer, name string) (int64, error) {
	name = model.CanonicalDomain(name)
	const query = `
	INSERT INTO onions (domain, info) VALUES (?, ?)
	ON CONFLICT(domain) DO NOTHING
	`
	if _, err := ex.ExecContext(ctx, query, name, string(tor.DescribeDomain(name))); err != nil {
		return 0, fmt.Errorf("failed to insert domain %q: %w", name, err)
	}
	return domainID(ctx, ex, name)
}

// LastInsertId is not reported for ON CONFLICT DO NOTHING, so ids are
// always looked up.
func domainID(ctx context.Context, ex execer, name string) (int64, error) {
	var id int64
	err := ex.QueryRowContext(ctx, "SELECT id FROM onions WHERE domain = ?", name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up domain %q: %w", name, err)
	}
	return id, nil
}

// MarkOffline records that a known domain could not be reached. Unknown
// domains are ignored; the row is never deleted.
func (g *GraphDB) MarkOffline(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name = model.CanonicalDomain(name)
	if _, err := g.db.ExecContext(ctx, "UPDATE onions SET online = 0 WHERE domain = ?", name); err != nil {
		return fmt.Errorf("failed to mark %q offline: %w", name, err)
	}
	return nil
}

// UpsertPage stores a page of an existing domain. A fetched page overwrites
// title, hash and timestamp; an unfetched one is only inserted if absent,
// so it never erases what an earlier scan found.
func (g *GraphDB) UpsertPage(ctx context.Context, domainID int64, page *model.Page) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return upsertPage(ctx, g.db, domainID, page)
}

func upsertPage(ctx context.Context, ex execer, domainID int64, page *model.Page) error {
	if !page.Fetched {
		const query = `
		INSERT INTO pages (domain_id, url) VALUES (?, ?)
		ON CONFLICT(domain_id, url) DO NOTHING
		`
		if _, err := ex.ExecContext(ctx, query, domainID, page.Path); err != nil {
			return fmt.Errorf("failed to insert page %q: %w", page.Path, err)
		}
		return nil
	}

	const query = `
	INSERT INTO pages (title, domain_id, url, hash, last_scan)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(domain_id, url) DO UPDATE SET
		title = excluded.title,
		hash = excluded.hash,
		last_scan = excluded.last_scan
	`
	_, err := ex.ExecContext(ctx, query,
		page.TitleOrDefault(),
		domainID,
		page.Path,
		nullString(page.Hash),
		formatTime(page.LastScan),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert page %q: %w", page.Path, err)
	}
	return nil
}

// InsertLink records the edge from -> to once. It reports whether a new row
// was written; self-loops and existing edges write nothing.
func (g *GraphDB) InsertLink(ctx context.Context, from, to int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return insertLink(ctx, g.db, model.Link{FromID: from, ToID: to})
}

func insertLink(ctx context.Context, ex execer, link model.Link) (bool, error) {
	if link.IsSelfLoop() {
		return false, nil
	}
	const query = `
	INSERT INTO links (domain_id, link_id) VALUES (?, ?)
	ON CONFLICT(domain_id, link_id) DO NOTHING
	`
	res, err := ex.ExecContext(ctx, query, link.FromID, link.ToID)
	if err != nil {
		return false, fmt.Errorf("failed to insert link %d -> %d: %w", link.FromID, link.ToID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert link %d -> %d: %w", link.FromID, link.ToID, err)
	}
	return n > 0, nil
}

// RecordStats counts what RecordCrawl wrote.
type RecordStats struct {
	DomainID   int64
	Pages      int
	NewDomains int
	NewLinks   int
	Failures   int
}

// RecordCrawl persists one top-level crawl in a single transaction: the seed
// domain is marked online, its pages are upserted, every external domain is
// inserted if new, and an edge is added from the seed domain to each of them.
//
// A row that fails is logged and skipped; the rest of the crawl is still
// committed. Only failures that make the whole unit impossible (begin,
// the seed domain itself, commit) are returned.
func (g *GraphDB) RecordCrawl(ctx context.Context, result *model.CrawlResult) (RecordStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var stats RecordStats

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	scanned := result.FinishedAt
	if scanned.IsZero() {
		scanned = time.Now()
	}
	seedID, err := upsertDomain(ctx, tx, result.Domain, true, scanned)
	if err != nil {
		return stats, err
	}
	stats.DomainID = seedID

	for i := range result.Pages {
		if err := upsertPage(ctx, tx, seedID, &result.Pages[i]); err != nil {
			g.rowFailed(&stats, err, "url", result.Pages[i].Path)
			continue
		}
		stats.Pages++
	}

	for _, domain := range result.Domains {
		existed, err := domainExists(ctx, tx, domain)
		if err != nil {
			g.rowFailed(&stats, err, "domain", domain)
			continue
		}
		targetID, err := ensureDomain(ctx, tx, domain)
		if err != nil {
			g.rowFailed(&stats, err, "domain", domain)
			continue
		}
		if !existed {
			stats.NewDomains++
		}

		added, err := insertLink(ctx, tx, model.Link{FromID: seedID, ToID: targetID})
		if err != nil {
			g.rowFailed(&stats, err, "domain", domain)
			continue
		}
		if added {
			stats.NewLinks++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit crawl of %s: %w", result.Domain, err)
	}
	return stats, nil
}

func (g *GraphDB) rowFailed(stats *RecordStats, err error, key, value string) {
	stats.Failures++
	g.logger.Warn("storage failure, row not recorded", key, value, "error", err)
}

func domainExists(ctx context.Context, ex execer, name string) (bool, error) {
	var n int
	err := ex.QueryRowContext(ctx, "SELECT COUNT(*) FROM onions WHERE domain = ?", model.CanonicalDomain(name)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up domain %q: %w", name, err)
	}
	return n > 0, nil
}

// GetDomain returns the row for name, or nil if the domain is unknown.
func (g *GraphDB) GetDomain(ctx context.Context, name string) (*model.Domain, error) {
	const query = `SELECT id, domain, online, last_scan, info FROM onions WHERE domain = ?`

	var (
		d        model.Domain
		lastScan string
	)
	err := g.db.QueryRowContext(ctx, query, model.CanonicalDomain(name)).Scan(&d.ID, &d.Name, &d.Online, &lastScan, &d.Info)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get domain %q: %w", name, err)
	}
	d.LastScan = parseTimestamp(lastScan)
	return &d, nil
}

// ListPages returns the pages of a domain ordered by id. Unfetched pages
// have an empty Title and Hash.
func (g *GraphDB) ListPages(ctx context.Context, domainID int64) ([]model.Page, error) {
	const query = `
	SELECT p.id, p.domain_id, o.domain, p.url, p.title, p.hash, p.last_scan
	FROM pages p JOIN onions o ON o.id = p.domain_id
	WHERE p.domain_id = ?
	ORDER BY p.id
	`
	rows, err := g.db.QueryContext(ctx, query, domainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []model.Page
	for rows.Next() {
		var (
			p           model.Page
			title, hash sql.NullString
			lastScan    string
		)
		if err := rows.Scan(&p.ID, &p.DomainID, &p.Domain, &p.Path, &title, &hash, &lastScan); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.Title = title.String
		p.Hash = hash.String
		p.Fetched = title.Valid
		p.LastScan = parseTimestamp(lastScan)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ResumeTarget is a domain to re-crawl when no seed is given.
type ResumeTarget struct {
	DomainID int64
	Domain   string
	URL      string
}

// ListResumeTargets returns every known domain, oldest first, with the URL
// of its first recorded page (or its root when it has none).
func (g *GraphDB) ListResumeTargets(ctx context.Context) ([]ResumeTarget, error) {
	const query = `
	SELECT o.id, o.domain,
		COALESCE((SELECT p.url FROM pages p WHERE p.domain_id = o.id ORDER BY p.id LIMIT 1), '/')
	FROM onions o
	ORDER BY o.id
	`
	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list resume targets: %w", err)
	}
	defer rows.Close()

	var targets []ResumeTarget
	for rows.Next() {
		var (
			t    ResumeTarget
			path string
		)
		if err := rows.Scan(&t.DomainID, &t.Domain, &path); err != nil {
			return nil, fmt.Errorf("failed to scan resume target: %w", err)
		}
		t.URL = "http://" + t.Domain + path
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// OnlineGraph returns the domains that are online and have been scanned at
// least once, and the links whose two endpoints are both in that set.
func (g *GraphDB) OnlineGraph(ctx context.Context) (*model.Graph, error) {
	never := formatTime(model.NeverScanned)

	const domainQuery = `
	SELECT id, domain, online, last_scan, info FROM onions
	WHERE online = 1 AND last_scan != ?
	ORDER BY id
	`
	rows, err := g.db.QueryContext(ctx, domainQuery, never)
	if err != nil {
		return nil, fmt.Errorf("failed to query online domains: %w", err)
	}
	defer rows.Close()

	graph := &model.Graph{Domains: []model.Domain{}, Links: []model.Link{}}
	for rows.Next() {
		var (
			d        model.Domain
			lastScan string
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Online, &lastScan, &d.Info); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		d.LastScan = parseTimestamp(lastScan)
		graph.Domains = append(graph.Domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	const linkQuery = `
	SELECT l.domain_id, l.link_id FROM links l
	JOIN onions a ON a.id = l.domain_id
	JOIN onions b ON b.id = l.link_id
	WHERE a.online = 1 AND a.last_scan != ?
		AND b.online = 1 AND b.last_scan != ?
		AND l.domain_id != l.link_id
	ORDER BY l.domain_id, l.link_id
	`
	linkRows, err := g.db.QueryContext(ctx, linkQuery, never, never)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var l model.Link
		if err := linkRows.Scan(&l.FromID, &l.ToID); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		graph.Links = append(graph.Links, l)
	}
	return graph, linkRows.Err()
}

// SeedPage is a page inserted into an empty store so that a resume run has
// somewhere to start.
type SeedPage struct {
	Domain string
	Path   string
}

// DefaultSeeds are two long-lived onion directories.
var DefaultSeeds = []SeedPage{
	{Domain: "zqktlwi4fecvo6ri.onion", Path: "/wiki/Main_Page"},
	{Domain: "auutwvpt2zktxwng.onion", Path: "/"},
}

// SeedDefaults inserts seeds as never-scanned domains with one unfetched page
// each, but only when the onions table is empty. It returns how many seeds
// were inserted.
func (g *GraphDB) SeedDefaults(ctx context.Context, seeds []SeedPage) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM onions").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count domains: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	for _, seed := range seeds {
		id, err := ensureDomain(ctx, tx, seed.Domain)
		if err != nil {
			return 0, err
		}
		if err := upsertPage(ctx, tx, id, &model.Page{Path: seed.Path}); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seeds: %w", err)
	}
	return len(seeds), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// timestampFormats are the layouts SQLite or older rows may use.
var timestampFormats = []string{
	timeLayout,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999",
}

// parseTimestamp returns the zero time for unparseable input.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
