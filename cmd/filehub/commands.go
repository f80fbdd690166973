package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"filehub/internal/client"
	"filehub/internal/core"
)

func runUpload(ctx context.Context, a *app, args []string) error {
	var includeHidden bool
	var maxSize string

	flags := subFlags("upload", a.errOut)
	flags.BoolVar(&includeHidden, "hidden", false, "include dot files and directories")
	flags.StringVar(&maxSize, "max-size", "", "skip files larger than this (e.g. 100MiB)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	limit, err := parseSize("max-size", maxSize)
	if err != nil {
		return err
	}

	parsed, err := core.ParseArgs(a.fs, flags.Args())
	if err != nil {
		return err
	}
	tree, err := core.BuildFiletree(a.fs, parsed, core.TreeOptions{IncludeHidden: includeHidden})
	if err != nil {
		return fmt.Errorf("failed to read files: %w", err)
	}

	payload := core.NewPayload(tree.FlattenTree())
	fmt.Fprintf(a.out, "Uploading %s\n", payload.Summary())

	skip := make(map[*core.File]bool)
	for _, f := range payload.Oversized(limit) {
		skip[f] = true
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tID\tSIZE\tPATH")

	var failed int
	for _, f := range payload.Files {
		if skip[f] {
			fmt.Fprintf(w, "skipped\t-\t%s\t%s\n", humanize.IBytes(uint64(f.Size())), f.RelPath())
			continue
		}

		res, err := uploadFile(ctx, a, f)
		if err != nil {
			if ctx.Err() != nil {
				w.Flush()
				return ctx.Err()
			}
			failed++
			fmt.Fprintf(w, "failed\t-\t%s\t%s: %v\n", humanize.IBytes(uint64(f.Size())), f.RelPath(), err)
			continue
		}

		status := "stored"
		if res.Duplicate {
			status = "duplicate"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", status, res.ID, humanize.IBytes(uint64(res.Size)), f.RelPath())
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(payload.Files))
	}
	return nil
}

func uploadFile(ctx context.Context, a *app, f *core.File) (*client.UploadResult, error) {
	src, err := a.fs.Open(f.Path())
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return a.client.Upload(ctx, f.Name(), src)
}

func runList(ctx context.Context, a *app, args []string) error {
	flags := subFlags("list", a.errOut)
	if err := flags.Parse(args); err != nil {
		return err
	}

	files, err := a.client.List(ctx)
	if err != nil {
		return err
	}
	printFiles(a.out, files)
	return nil
}

func runSearch(ctx context.Context, a *app, args []string) error {
	var params client.SearchParams
	var minSize, maxSize string

	flags := subFlags("search", a.errOut)
	flags.StringVar(&params.Filename, "filename", "", "filename substring")
	flags.StringVar(&params.FileType, "type", "", "content type substring")
	flags.StringVar(&minSize, "min-size", "", "minimum size (e.g. 1KB)")
	flags.StringVar(&maxSize, "max-size", "", "maximum size (e.g. 10MiB)")
	flags.StringVar(&params.DateRange, "date-range", "", "today, week or month")
	flags.StringVar(&params.Ordering, "order", "", "uploaded_at, size or file_type; prefix - for descending")
	if err := flags.Parse(args); err != nil {
		return err
	}

	for _, s := range []struct {
		name string
		raw  string
		dst  **int64
	}{
		{"min-size", minSize, &params.MinSize},
		{"max-size", maxSize, &params.MaxSize},
	} {
		if s.raw == "" {
			continue
		}
		n, err := parseSize(s.name, s.raw)
		if err != nil {
			return err
		}
		*s.dst = &n
	}

	files, err := a.client.Search(ctx, params)
	if err != nil {
		return err
	}
	printFiles(a.out, files)
	return nil
}

func runStats(ctx context.Context, a *app, args []string) error {
	flags := subFlags("stats", a.errOut)
	if err := flags.Parse(args); err != nil {
		return err
	}

	stats, err := a.client.Stats(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Files:\t%d (%d unique, %d duplicates)\n", stats.TotalFiles, stats.UniqueFiles, stats.DuplicateFiles)
	fmt.Fprintf(w, "Logical size:\t%s\n", humanize.IBytes(uint64(stats.TotalSizeBytes)))
	fmt.Fprintf(w, "Stored size:\t%s\n", humanize.IBytes(uint64(stats.UniqueSizeBytes)))
	fmt.Fprintf(w, "Saved:\t%s (%.2f%%)\n", humanize.IBytes(uint64(stats.StorageSavingsBytes)), stats.StorageSavingsPercentage)
	return w.Flush()
}

func runInfo(ctx context.Context, a *app, args []string) error {
	flags := subFlags("info", a.errOut)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("info takes exactly one id")
	}

	info, err := a.client.Info(ctx, flags.Arg(0))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", info.ID)
	fmt.Fprintf(w, "Name:\t%s\n", info.OriginalFilename)
	fmt.Fprintf(w, "Type:\t%s\n", info.ContentType)
	fmt.Fprintf(w, "Size:\t%s (%d bytes)\n", humanize.IBytes(uint64(info.Size)), info.Size)
	fmt.Fprintf(w, "Uploaded:\t%s (%s)\n", info.UploadedAt.Format(time.RFC3339), humanize.Time(info.UploadedAt))
	fmt.Fprintf(w, "Fingerprint:\t%s\n", info.Fingerprint)
	if info.IsDuplicate {
		fmt.Fprintf(w, "Duplicate of:\t%s\n", info.OriginalFile)
		if d := info.OriginalDetails; d != nil {
			fmt.Fprintf(w, "\t%s, %s\n", d.OriginalFilename, humanize.Time(d.UploadedAt))
		}
	} else {
		fmt.Fprintf(w, "References:\t%d\n", info.ReferenceCount)
		fmt.Fprintf(w, "Duplicates:\t%d\n", info.DuplicatesCount)
	}
	return w.Flush()
}

func runDelete(ctx context.Context, a *app, args []string) error {
	flags := subFlags("delete", a.errOut)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return errors.New("delete needs at least one id")
	}

	var failed int
	for _, id := range flags.Args() {
		warning, err := a.client.Delete(ctx, id)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(a.out, "%s: %v\n", id, err)
		case warning != "":
			fmt.Fprintf(a.out, "%s: deleted (%s)\n", id, warning)
		default:
			fmt.Fprintf(a.out, "%s: deleted\n", id)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d deletes failed", failed, flags.NArg())
	}
	return nil
}

func runDownload(ctx context.Context, a *app, args []string) error {
	var output string

	flags := subFlags("download", a.errOut)
	flags.StringVarP(&output, "output", "o", "", "write to this path instead of the stored filename")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("download takes exactly one id")
	}
	id := flags.Arg(0)

	if output == "" {
		info, err := a.client.Info(ctx, id)
		if err != nil {
			return err
		}
		output = info.OriginalFilename
	}

	if _, err := a.fs.Stat(output); err == nil {
		return fmt.Errorf("%s already exists", output)
	}

	dst, err := a.fs.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}

	n, err := a.client.Download(ctx, id, dst)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		a.fs.Remove(output)
		return err
	}

	fmt.Fprintf(a.out, "Saved %s (%s)\n", output, humanize.IBytes(uint64(n)))
	return nil
}

func printFiles(out io.Writer, files []client.File) {
	if len(files) == 0 {
		fmt.Fprintln(out, "No files.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSIZE\tUPLOADED\tDUPLICATE OF")
	for _, f := range files {
		dup := "-"
		if f.IsDuplicate {
			dup = f.OriginalFile
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID, f.OriginalFilename, f.ContentType,
			humanize.IBytes(uint64(f.Size)), humanize.Time(f.UploadedAt), dup)
	}
	w.Flush()
}

// parseSize accepts plain byte counts and humanized sizes like 10MiB.
func parseSize(flag, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", flag, raw, err)
	}
	return int64(n), nil
}
