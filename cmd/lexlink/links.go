package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/japaniel/lexlink/pkg/span"
)

func newLinksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Create, review and list links between texts and words",
		Long: `Links connect a range of a text (in Unicode codepoints) to a lexicon word.
Suggested links come from the lexicon and can be confirmed or rejected.
Confirmed links are never replaced by suggestions.`,
	}
	cmd.AddCommand(
		newLinksListCmd(c),
		newLinksCreateCmd(c),
		newLinksStatusCmd(c),
		newLinksNotesCmd(c),
		newLinksWordCmd(c),
		newLinksRemoveCmd(c),
		newLinksSuggestCmd(c),
		newLinksRegenerateCmd(c),
		newLinksRenderCmd(c),
	)
	return cmd
}

func newLinksListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list <text-id>",
		Short: "List the links of a text in reading order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				spans, err := b.manager.ListLinks(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printJSON(nonNil(spans))
			})
		},
	}
}

func newLinksCreateCmd(c *cli) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "create <text-id> <word-id> <start> <end>",
		Short: "Confirm a link from a selection",
		Long: `Create a confirmed link from a raw selection. The selection is expanded to
whole words; a caret (start == end) inside a word selects that word.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid start %q: %w", args[2], err)
			}
			end, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("invalid end %q: %w", args[3], err)
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				s, err := b.manager.CreateLink(ctx, args[0], args[1], start, end, notes)
				if err != nil {
					return err
				}
				return c.printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	return cmd
}

func newLinksStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <span-id> <suggested|confirmed|rejected>",
		Short: "Confirm, reject or reopen a link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := span.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				s, err := b.manager.UpdateStatus(ctx, args[0], to)
				if err != nil {
					return err
				}
				return c.printJSON(s)
			})
		},
	}
}

func newLinksNotesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "notes <span-id> <notes>",
		Short: "Replace the notes of a link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				s, err := b.manager.UpdateNotes(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return c.printJSON(s)
			})
		},
	}
}

func newLinksWordCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "word <span-id> <word-id>",
		Short: "Point a link at another word",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				s, err := b.manager.ReassignWord(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return c.printJSON(s)
			})
		},
	}
}

func newLinksRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <span-id>",
		Short: "Delete a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				if err := b.manager.RemoveLink(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Removed %s.\n", args[0])
				return nil
			})
		},
	}
}

func newLinksSuggestCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <text-id>",
		Short: "Add suggestions without clearing existing ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				spans, err := b.manager.SuggestLinks(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printJSON(nonNil(spans))
			})
		},
	}
}

func newLinksRegenerateCmd(c *cli) *cobra.Command {
	var document bool
	cmd := &cobra.Command{
		Use:   "regenerate <text-id>",
		Short: "Replace the suggestions of a text (or of a whole document with --document)",
		Long: `Replace all suggested links of a text with fresh ones from the lexicon.
Confirmed and rejected links are kept. With --document the argument is a
document id and every text of the document is regenerated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				if document {
					res, err := b.manager.RegenerateDocument(ctx, args[0])
					if err != nil {
						return err
					}
					return c.printJSON(res)
				}
				spans, err := b.manager.RegenerateSuggestions(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printJSON(nonNil(spans))
			})
		},
	}
	cmd.Flags().BoolVar(&document, "document", false, "treat the argument as a document id")
	return cmd
}

func newLinksRenderCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "render <text-id>",
		Short: "Print the tokens of a text with their link state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				toks, err := b.manager.RenderText(ctx, args[0])
				if err != nil {
					return err
				}
				return c.printJSON(toks)
			})
		},
	}
}

// nonNil makes empty results print as [] rather than null.
func nonNil(spans []span.Span) []span.Span {
	if spans == nil {
		return []span.Span{}
	}
	return spans
}
