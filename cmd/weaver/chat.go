package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/term"

	"weaver/book"
	"weaver/export/epub"
	"weaver/gemini"
	"weaver/narrate"
	"weaver/share"
	"weaver/state"
)

const chatHelp = `Commands:
  /pages          list pages
  /page N         select page N for the following edits
  /export [DEST]  write book as EPUB
  /save           keep book in the local store
  /share          publish finished book
  /narrate [DIR]  write narration for every page
  /help           show this help
  /quit           leave
`

type chatter struct {
	env     *state.LocalEnv
	session *book.Session
	speech  book.SpeechSynthesizer
	sharer  publisher
	log     *zap.Logger

	title  string
	outDir string
	prompt bool

	mu  sync.Mutex
	out io.Writer
	// pages as last reported to the user
	seen []book.Page
}

type publisher interface {
	Publish(ctx context.Context, title string, pages []book.Page) (string, error)
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	client, err := gemini.New(ctx, env.Cfg.Gemini, env.Log)
	if err != nil {
		return fmt.Errorf("unable to create model client: %w", err)
	}

	shareURL := cmd.String("share-url")
	if len(shareURL) == 0 {
		shareURL = env.Cfg.Share.BaseURL
	}

	c := &chatter{
		env:    env,
		speech: client,
		sharer: share.NewClient(shareURL, nil, env.Log),
		log:    env.Log,
		title:  cmd.String("title"),
		outDir: cmd.String("out"),
		prompt: term.IsTerminal(int(os.Stdin.Fd())),
		out:    os.Stdout,
	}
	c.session = book.NewSession(client, client,
		book.WithLogger(env.Log),
		book.WithImageTimeout(env.Cfg.Gemini.ImageTimeout),
		book.WithOpeningMessage(env.Cfg.Session.OpeningMessage),
		book.WithApologyMessage(env.Cfg.Session.ApologyMessage),
		book.WithMaxPages(env.Cfg.Session.MaxPages),
		book.WithObserver(c.observe),
	)
	defer c.report()

	return c.run(ctx, os.Stdin)
}

func (c *chatter) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// observe reports pages which changed since last notification, called from
// session goroutines.
func (c *chatter) observe(snap book.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range snap.Pages {
		var old book.Page
		if i < len(c.seen) {
			old = c.seen[i]
		}
		if p.Image != old.Image && p.Image != nil {
			fmt.Fprintf(c.out, "* illustration ready: %s\n", book.PageLabel(i))
		}
		if p.Text != old.Text && p.Text != nil {
			fmt.Fprintf(c.out, "* text updated: %s\n", book.PageLabel(i))
		}
	}
	c.seen = snap.Pages
}

func (c *chatter) showReply() {
	transcript := c.session.Transcript()
	if len(transcript) == 0 {
		return
	}
	last := transcript[len(transcript)-1]
	if last.Role != book.RoleAssistant {
		return
	}
	if text := book.Visible(last.Text); len(text) > 0 {
		c.printf("\nWeaver: %s\n\n", text)
	}
	if c.session.Finished() {
		c.printf("* the story is finished, use /share to publish it\n")
	}
}

func (c *chatter) run(ctx context.Context, in io.Reader) error {
	if err := c.session.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("Unable to start story", zap.Error(err))
	}
	c.showReply()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if c.prompt {
			c.printf("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 {
			continue
		}

		if name, arg, ok := parseCommand(line); ok {
			quit, err := c.command(ctx, name, arg)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.printf("Error: %v\n", err)
			}
			if quit {
				break
			}
			continue
		}

		if err := c.session.SubmitUserMessage(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("Turn failed", zap.Error(err))
		}
		c.showReply()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("unable to read input: %w", err)
	}
	return c.session.Wait(ctx)
}

// parseCommand splits "/name rest" lines.
func parseCommand(line string) (name, arg string, ok bool) {
	rest, ok := strings.CutPrefix(line, "/")
	if !ok || len(rest) == 0 {
		return "", "", false
	}
	name, arg, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func (c *chatter) command(ctx context.Context, name, arg string) (bool, error) {
	switch name {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		c.printf("%s", chatHelp)
	case "pages":
		c.listPages()
	case "page":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return false, fmt.Errorf("page number expected, got %q", arg)
		}
		c.session.SetCursor(n)
		c.printf("* selected %s\n", book.PageLabel(c.session.Cursor()))
	case "export":
		return false, c.export(ctx, arg)
	case "save":
		return false, c.save(ctx)
	case "share":
		return false, c.share(ctx)
	case "narrate":
		return false, c.narrate(ctx, arg)
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", name)
	}
	return false, nil
}

func (c *chatter) listPages() {
	snap := c.session.Snapshot()
	if len(snap.Pages) == 0 {
		c.printf("* no pages yet\n")
		return
	}
	for i, p := range snap.Pages {
		marker := " "
		if i == snap.Cursor {
			marker = ">"
		}
		image := "no image"
		if p.Image != nil {
			image = "image"
		}
		text := ""
		if p.Text != nil {
			text = preview(*p.Text, 60)
		}
		c.printf("%s %-9s %-8s %s\n", marker, book.PageLabel(i), image, text)
	}
	if snap.Generating {
		c.printf("* illustrations are being drawn\n")
	}
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return text
}

// pages waits for pending illustrations and returns the book.
func (c *chatter) pages(ctx context.Context) ([]book.Page, error) {
	if c.session.Generating() {
		c.printf("* waiting for illustrations...\n")
	}
	if err := c.session.Wait(ctx); err != nil {
		return nil, err
	}
	pages := c.session.Pages()
	if len(pages) == 0 {
		return nil, errors.New("there are no pages yet")
	}
	return pages, nil
}

func (c *chatter) export(ctx context.Context, dst string) error {
	pages, err := c.pages(ctx)
	if err != nil {
		return err
	}
	if len(dst) == 0 {
		dst = c.outDir
	}
	st := &epub.Story{Title: c.title, Author: c.env.Cfg.Export.Author, Pages: pages}
	name := epub.OutputPath(st, dst, &c.env.Cfg.Export, c.log)
	if err := epub.Generate(ctx, st, name, &c.env.Cfg.Export, c.env.DefaultPlaceholder, c.log); err != nil {
		return err
	}
	c.printf("* book written to %s\n", name)
	return nil
}

func (c *chatter) save(ctx context.Context) error {
	pages, err := c.pages(ctx)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, &c.env.Cfg.Store, c.log)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := saveBook(ctx, st, c.title, pages)
	if err != nil {
		return err
	}
	c.printf("* saved as story %s\n", id)
	return nil
}

func (c *chatter) share(ctx context.Context) error {
	if err := c.session.Wait(ctx); err != nil {
		return err
	}
	pages, err := c.session.FinishedPages()
	if errors.Is(err, book.ErrNotFinished) {
		return errors.New("only finished story could be shared, keep going")
	}
	if err != nil {
		return err
	}
	link, err := c.sharer.Publish(ctx, c.title, pages)
	if err != nil {
		return err
	}
	c.printf("* shared: %s\n", link)
	return nil
}

func (c *chatter) narrate(ctx context.Context, dir string) error {
	pages, err := c.pages(ctx)
	if err != nil {
		return err
	}
	if len(dir) == 0 {
		dir = c.outDir
	}
	files, err := narrate.Narrate(ctx, pages, c.speech, dir, &c.env.Cfg.Narration, c.log)
	if err != nil {
		return err
	}
	c.printf("* %d narration file(s) written to %s\n", len(files), dir)
	return nil
}

// report keeps dialogue and pages in debug report.
func (c *chatter) report() {
	if c.env.Rpt == nil {
		return
	}
	c.env.Rpt.StoreData("session/transcript.txt", []byte(c.session.TranscriptString()))
	c.env.Rpt.StoreData("session/pages.txt", []byte(c.session.String()))
}
