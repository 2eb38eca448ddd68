package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/maruel/natural"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"weaver/config"
	"weaver/export/epub"
	"weaver/gemini"
	"weaver/narrate"
	"weaver/share"
	"weaver/state"
	"weaver/store"
)

func runServe(ctx context.Context, _ *cli.Command) error {
	env := state.EnvFromContext(ctx)

	st, err := openStore(ctx, &env.Cfg.Store, env.Log)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := share.NewServer(env.Cfg.Share, st, env.Log)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func fetchStory(ctx context.Context, env *state.LocalEnv, id string) (*store.Story, error) {
	st, err := openStore(ctx, &env.Cfg.Store, env.Log)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	story, err := st.FetchStory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch story %q: %w", id, err)
	}
	return story, nil
}

func runExport(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	env.Overwrite = cmd.Bool("overwrite")

	if cmd.Args().Len() == 0 {
		return errors.New("no story id has been specified")
	}
	if cmd.Args().Len() > 2 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	id, dst := cmd.Args().Get(0), cmd.Args().Get(1)
	if len(dst) == 0 {
		dst = "."
	}

	stored, err := fetchStory(ctx, env, id)
	if err != nil {
		return err
	}

	st := &epub.Story{ID: stored.ID, Title: stored.Title, Author: env.Cfg.Export.Author, Pages: bookPages(stored)}
	name := epub.OutputPath(st, dst, &env.Cfg.Export, env.Log)
	if _, err := os.Stat(name); err == nil && !env.Overwrite {
		return fmt.Errorf("output file already exists: %s", name)
	}
	if err := epub.Generate(ctx, st, name, &env.Cfg.Export, env.DefaultPlaceholder, env.Log); err != nil {
		return fmt.Errorf("unable to export story %q: %w", id, err)
	}
	env.Log.Info("Story exported", zap.String("id", id), zap.String("file", name))
	return nil
}

func runNarrate(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	env.Overwrite = cmd.Bool("overwrite")

	if cmd.Args().Len() < 2 {
		return errors.New("story id and destination directory are required")
	}
	id, dir := cmd.Args().Get(0), cmd.Args().Get(1)

	if !env.Overwrite {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			return fmt.Errorf("destination directory is not empty: %s", dir)
		}
	}

	stored, err := fetchStory(ctx, env, id)
	if err != nil {
		return err
	}
	client, err := gemini.New(ctx, env.Cfg.Gemini, env.Log)
	if err != nil {
		return fmt.Errorf("unable to create model client: %w", err)
	}
	if _, err := narrate.Narrate(ctx, bookPages(stored), client, dir, &env.Cfg.Narration, env.Log); err != nil {
		return fmt.Errorf("unable to narrate story %q: %w", id, err)
	}
	return nil
}

func runStories(ctx context.Context, _ *cli.Command) error {
	env := state.EnvFromContext(ctx)

	st, err := openStore(ctx, &env.Cfg.Store, env.Log)
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.ListStories(ctx)
	if err != nil {
		return fmt.Errorf("unable to list stories: %w", err)
	}
	return printStories(os.Stdout, list)
}

// printStories outputs stories naturally sorted by title.
func printStories(out io.Writer, list []store.Summary) error {
	slices.SortStableFunc(list, func(a, b store.Summary) int {
		switch {
		case natural.Less(a.Title, b.Title):
			return -1
		case natural.Less(b.Title, a.Title):
			return 1
		}
		return 0
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPAGES\tCREATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.Pages, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err  error
		data []byte
		kind string
	)

	out := os.Stdout
	if len(fname) > 0 {
		out, err = os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer out.Close()
	}

	if cmd.Bool("default") {
		kind = "default"
		data, err = config.Prepare()
	} else {
		kind = "actual"
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	env.Log.Info("Outputing configuration", zap.String("state", kind), zap.String("file", fname))

	if _, err = out.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
