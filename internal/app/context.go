package app

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/beingSCK/work-journal-summarizer/internal/config"
	"github.com/beingSCK/work-journal-summarizer/internal/db"
	"github.com/beingSCK/work-journal-summarizer/internal/events"
	"github.com/beingSCK/work-journal-summarizer/internal/feeds"
	"github.com/beingSCK/work-journal-summarizer/internal/journal"
	"github.com/beingSCK/work-journal-summarizer/internal/llm"
	"github.com/beingSCK/work-journal-summarizer/internal/mail"
	"github.com/beingSCK/work-journal-summarizer/internal/migrate"
	"github.com/beingSCK/work-journal-summarizer/internal/repo"
)

const (
	lockName       = "wjs.lock"
	lockStaleAfter = time.Hour
)

// App holds the resolved config and the shared components a CLI invocation
// runs against. Build one with Open and close it when done.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Journal journal.Reader
	Mail    mail.Service
	Feeds   *feeds.Fetcher
	Now     func() time.Time

	lockPath string
}

// Open loads the config, opens and migrates the state database, and wires
// the journal, mail, and feed components.
func Open(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Dir: cfg.SecretsProjectDir()})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	a := &App{
		Config:  cfg,
		DB:      conn,
		Repo:    repo.Repo{DB: conn},
		Journal: journal.New(cfg.EntriesDir(), cfg.SummariesDir(), cfg.StagingDir()),
		Mail:    mail.NewClient(mail.NewTokenSource(cfg.SecretsProjectDir(), cfg.Email.From)),
		Feeds:   feeds.New(cfg.FetchTimeout(), cfg.Heartbeat.ItemsPerFeed),
		Now:     time.Now,
	}
	a.Events = events.Writer{DB: conn, Now: func() time.Time { return a.Now() }}
	return a, nil
}

// LLM builds the Anthropic client on demand so passes that never reach the
// model (dry runs, status) work without an API key.
func (a *App) LLM() (*llm.Client, error) {
	return llm.New(filepath.Join(a.Config.SecretsSharedDir(), "anthropic-api-key.txt"))
}

// Lock takes the single-run lock in the state directory so overlapping cron
// and manual invocations cannot interleave sends. A lock file older than an
// hour belongs to a crashed run and is replaced.
func (a *App) Lock() error {
	path := filepath.Join(a.Config.SecretsProjectDir(), lockName)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), a.Now().UTC().Format(time.RFC3339))
			f.Close()
			a.lockPath = path
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		info, statErr := os.Stat(path)
		if statErr == nil && a.Now().Sub(info.ModTime()) < lockStaleAfter {
			return fmt.Errorf("another run holds the lock at %s (since %s)", path, info.ModTime().UTC().Format(time.RFC3339))
		}
		// Stale or vanished; clear it and retry once.
		os.Remove(path)
	}
	return fmt.Errorf("could not take run lock at %s", path)
}

// Unlock releases the run lock if this App holds it.
func (a *App) Unlock() {
	if a.lockPath != "" {
		os.Remove(a.lockPath)
		a.lockPath = ""
	}
}

// Close releases the lock and the database.
func (a *App) Close() error {
	a.Unlock()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
