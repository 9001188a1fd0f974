package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/julianstephens/daypulse/internal/config"
	"github.com/julianstephens/daypulse/internal/lock"
	"github.com/julianstephens/daypulse/internal/logger"
	"github.com/julianstephens/daypulse/internal/pipeline"
	"github.com/julianstephens/daypulse/internal/storage"
	"github.com/julianstephens/daypulse/internal/storage/archive"
	"github.com/julianstephens/daypulse/internal/storage/postgres"
	"github.com/julianstephens/daypulse/internal/storage/sqlite"
	"github.com/julianstephens/daypulse/internal/utils"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Padding(0, 1)
	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// confirmFunc asks the user a yes/no question
var confirmFunc = func(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

// Context carries the loaded configuration and the stores shared by every command.
// Stores are opened on demand so that commands like keyring work without a database.
type Context struct {
	Config  *config.Config
	DataDir string
	Out     io.Writer

	Store     storage.Provider
	Days      storage.DayStore
	Artifacts storage.ArtifactStore
	// Archive is set when artifacts live in the file archive
	Archive *archive.Archive
	Service *pipeline.Service

	cache *storage.ArtifactCache
}

// NewContext creates a Context writing to stdout
func NewContext(cfg *config.Config, dataDir string) *Context {
	return &Context{Config: cfg, DataDir: dataDir, Out: os.Stdout}
}

func (c *Context) provider() (storage.Provider, error) {
	switch c.Config.Storage.Driver {
	case config.DriverPostgres:
		connStr, err := config.ConnString()
		if err != nil {
			return nil, err
		}
		if _, err := postgres.ValidateConnString(connStr); err != nil {
			if errors.Is(err, postgres.ErrEmbeddedCredentials) && os.Getenv(config.EnvConnString) == "" {
				// Embedded credentials are only rejected from the environment
				logger.Debug("Using keyring connection string with embedded credentials")
			} else {
				return nil, err
			}
		}
		return postgres.New(connStr), nil
	default:
		return sqlite.NewStore(c.Config.Storage.Path), nil
	}
}

// Open connects to the configured database and wires the resilient store, the
// artifact cache and the pipeline. init=true creates the schema first.
func (c *Context) Open(ctx context.Context, init bool) error {
	if c.Service != nil {
		return nil
	}

	store := c.Store
	if store == nil {
		p, err := c.provider()
		if err != nil {
			return err
		}
		store = p
	}

	open := store.Load
	if init {
		open = store.Init
	}
	if err := open(ctx); err != nil {
		return err
	}
	c.Store = store

	var artifacts storage.ArtifactStore = store
	if c.Config.Artifacts.Store == config.ArtifactsArchive {
		c.Archive = archive.New(c.Config.Artifacts.Dir)
		c.Archive.MaxHistory = c.Config.Artifacts.Retention
		artifacts = c.Archive
	}

	resilient := storage.NewResilient(store, artifacts, c.Config.ResilientConfig())
	c.Days = resilient
	c.cache = storage.NewArtifactCache(resilient)
	c.Artifacts = c.cache
	c.Service = pipeline.New(c.Days, c.Artifacts, c.Config.TrainerOptions())
	return nil
}

// Close releases the database connection if one was opened
func (c *Context) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Today returns today's date in the configured timezone
func (c *Context) Today() (string, error) {
	return utils.GetTodayInTimezone(c.Config.Timezone)
}

// interruptible returns a context cancelled on SIGINT or SIGTERM
func (c *Context) interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withTrainingLock runs fn while holding the data directory's training lock
func (c *Context) withTrainingLock(fn func() error) error {
	l, err := lock.Acquire(c.DataDir)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("%w: wait for the running training to finish", err)
		}
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			logger.Warn("Failed to release training lock", "error", err)
		}
	}()
	return fn()
}

func (c *Context) printTable(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(c.Out, t)
}

func (c *Context) ok(format string, args ...any) {
	fmt.Fprintln(c.Out, okStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

func (c *Context) warn(format string, args ...any) {
	fmt.Fprintln(c.Out, warnStyle.Render("⚠ "+fmt.Sprintf(format, args...)))
}

func (c *Context) fail(format string, args ...any) {
	fmt.Fprintln(c.Out, failStyle.Render("❌ "+fmt.Sprintf(format, args...)))
}
