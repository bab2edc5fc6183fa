package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/japaniel/lexlink/pkg/config"
	"github.com/japaniel/lexlink/pkg/db"
	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/linking"
	"github.com/japaniel/lexlink/pkg/pgstore"
)

const version = "0.3.0"

// cli carries the state shared by all commands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	user    string

	cfg    config.Config
	logger *slog.Logger

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "lexlink",
		Short: "Link words in documents to a lexicon",
		Long: `lexlink links ranges of text in endangered-language documents to the words
of a lexicon. It suggests links automatically, lets reviewers confirm or
reject them and keeps confirmed links from ever being overwritten.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (LEXLINK_*)
  3. Config file (./lexlink.yaml or ~/.lexlink/lexlink.yaml)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file")
	pf.StringVar(&c.user, "user", "", "user id recorded on created and reviewed links (default: $USER)")
	pf.String("db", "", "path to SQLite database")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text, json")
	_ = c.v.BindPFlag("database.path", pf.Lookup("db"))
	_ = c.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", pf.Lookup("log-format"))

	root.AddCommand(
		newVersionCmd(c),
		newInitCmd(c),
		newConfigCmd(c),
		newLexiconCmd(c),
		newIngestCmd(c),
		newDocumentsCmd(c),
		newLinksCmd(c),
	)
	return root
}

// initConfig reads the config file and LEXLINK_* environment variables.
func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.SetConfigName("lexlink")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			c.v.AddConfigPath(filepath.Join(home, ".lexlink"))
		}
	}
	config.BindEnv(c.v)

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = cfg.Log.NewLogger(c.errOut)
	if used := c.v.ConfigFileUsed(); used != "" {
		c.logger.Debug("using config file", "path", used)
	}
	return nil
}

// ctx attaches the acting user to the command context.
func (c *cli) ctx(cmd *cobra.Command) context.Context {
	user := c.user
	if user == "" {
		user = os.Getenv("USER")
	}
	return linking.WithActor(cmd.Context(), user)
}

// backend is the storage and engine opened for one command.
type backend struct {
	conn    *sql.DB
	catalog *db.Catalog
	cache   *lexicon.Cache
	manager *linking.Manager
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// open connects to the configured databases. Spans are kept in PostgreSQL
// when database.postgres_dsn is set and next to the catalog otherwise.
func (c *cli) open(ctx context.Context) (*backend, error) {
	conn, err := db.Open(c.cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	b := &backend{conn: conn, closers: []func(){func() { conn.Close() }}}
	b.catalog = db.NewCatalog(conn)
	b.cache = lexicon.NewCache(b.catalog, c.cfg.Linking.LexiconTTL)

	var store linking.Store = db.NewSpanStore(conn)
	if dsn := c.cfg.Database.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		pg := pgstore.New(pool)
		if err := pg.Migrate(ctx); err != nil {
			b.Close()
			return nil, err
		}
		store = pg
		c.logger.Debug("spans stored in postgres")
	}

	m := linking.NewManager(b.catalog, b.cache, store)
	m.Logger = c.logger
	m.Workers = c.cfg.Linking.Workers
	m.Timeout = c.cfg.Linking.PersistTimeout
	m.MaxAttempts = c.cfg.Linking.MaxAttempts
	m.Backoff = c.cfg.Linking.InitialBackoff
	b.manager = m
	return b, nil
}

// withBackend opens the backend, runs fn and closes it.
func (c *cli) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error {
	ctx := c.ctx(cmd)
	b, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.out, "lexlink v%s\n", version)
		},
	}
}

func newInitCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and apply the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				fmt.Fprintf(c.out, "Database initialized at %s\n", c.cfg.Database.Path)
				return nil
			})
		},
	}
}
