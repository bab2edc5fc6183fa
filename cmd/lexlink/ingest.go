package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/japaniel/lexlink/pkg/db"
	"github.com/japaniel/lexlink/pkg/ingest"
	"github.com/japaniel/lexlink/pkg/lexicon"
)

func (c *cli) ingester(b *backend) *ingest.Ingester {
	ig := ingest.NewIngester(b.conn, b.manager)
	ig.BatchSize = c.cfg.Ingest.BatchSize
	ig.Workers = c.cfg.Ingest.Workers
	ig.Logger = c.logger
	return ig
}

func newLexiconCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexicon",
		Short: "Manage lexicon words",
	}

	var language string
	importCmd := &cobra.Command{
		Use:   "import <file.json|url>",
		Short: "Import words from a JSON lexicon file or URL",
		Long: `Import words from a JSON file, either an object
  {"language": "mic", "words": [{"word": "...", "romanization": "..."}]}
or a bare array of words. Words without a language take the file's language,
then --language. URLs may point at plain, gzipped or .tgz JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
				tmp, err := os.MkdirTemp("", "lexlink-lexicon-")
				if err != nil {
					return err
				}
				defer os.RemoveAll(tmp)
				dest := filepath.Join(tmp, "lexicon.json")
				fmt.Fprintf(c.errOut, "Downloading %s...\n", path)
				if err := lexicon.Download(cmd.Context(), nil, path, dest); err != nil {
					return fmt.Errorf("failed to download lexicon: %w", err)
				}
				path = dest
			}
			entries, err := lexicon.LoadFile(path, language)
			if err != nil {
				return fmt.Errorf("failed to load lexicon: %w", err)
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				n, err := c.ingester(b).ImportLexicon(ctx, entries, b.cache)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Imported %d words.\n", n)
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&language, "language", "", "language of words that do not name one")

	wordsCmd := &cobra.Command{
		Use:   "words <language>",
		Short: "List the words of a language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				words, err := db.GetWordsByLanguage(ctx, b.conn, args[0])
				if err != nil {
					return err
				}
				return c.printJSON(words)
			})
		},
	}

	cmd.AddCommand(importCmd, wordsCmd)
	return cmd
}

func newIngestCmd(c *cli) *cobra.Command {
	var file, rawURL, language, title string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store a document and suggest links for its texts",
		Long: `Store a document read from --file or fetched from --url. The content is
split into texts (one per paragraph) and suggestions are generated for each
text against the lexicon of --language.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (rawURL == "") {
				return errors.New("exactly one of --file or --url is required")
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				ig := c.ingester(b)
				ig.OnProgress = func(current, total int) {
					fmt.Fprintf(c.errOut, "\rLinked %d/%d texts", current, total)
					if current == total {
						fmt.Fprintln(c.errOut)
					}
				}

				doc := ingest.Document{Title: title, Language: language}
				if file != "" {
					content, err := os.ReadFile(file)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", file, err)
					}
					doc.Content = string(content)
				} else {
					f := ingest.NewFetcher(c.cfg.Ingest.UserAgent, c.cfg.Ingest.RequestsPerSecond, c.cfg.Ingest.MaxBodyBytes)
					fmt.Fprintf(c.errOut, "Fetching %s...\n", rawURL)
					art, err := f.Fetch(ctx, rawURL)
					if err != nil {
						return err
					}
					doc.Content = art.Content
					doc.SourceURL = art.URL
					if doc.Title == "" {
						doc.Title = art.Title
					}
					ig.Splitter = ingest.SplitLines
				}

				res, err := ig.Ingest(ctx, doc)
				if err != nil {
					return fmt.Errorf("ingestion failed: %w", err)
				}
				fmt.Fprintf(c.out, "Document %s: %d texts, %d suggestions.\n", res.DocumentID, len(res.TextIDs), res.Suggestions)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "plain text file to ingest")
	cmd.Flags().StringVar(&rawURL, "url", "", "web page to fetch and ingest")
	cmd.Flags().StringVar(&language, "language", "", "language of the document")
	cmd.Flags().StringVar(&title, "title", "", "document title (default: page title or Untitled)")
	_ = cmd.MarkFlagRequired("language")
	return cmd
}

func newDocumentsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Browse stored documents",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				docs, err := db.ListDocuments(ctx, b.conn)
				if err != nil {
					return err
				}
				return c.printJSON(docs)
			})
		},
	}
	texts := &cobra.Command{
		Use:   "texts <document-id>",
		Short: "List the texts of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				if _, err := db.GetDocument(ctx, b.conn, args[0]); err != nil {
					return err
				}
				ts, err := db.ListDocumentTexts(ctx, b.conn, args[0])
				if err != nil {
					return err
				}
				return c.printJSON(ts)
			})
		},
	}
	cmd.AddCommand(list, texts)
	return cmd
}
