package anonymize

import (
	"context"
	"path"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

const (
	StatusAnonymized = "anonymized"
	StatusFailed     = "failed"
)

// Outcome records what happened to one matched file.
type Outcome struct {
	Source      string `csv:"source"`
	Destination string `csv:"destination"`
	Status      string `csv:"status"`
	Bytes       int64  `csv:"bytes"`
	Error       string `csv:"error"`
}

// Summary totals a run.
type Summary struct {
	Matched    int
	Anonymized int
	Failed     int
	Bytes      int64
}

// directoryGroup holds the matched files of one directory, in walk order.
type directoryGroup struct {
	dir   string
	files []string
}

// ProcessDirectory anonymizes every matching file below src into dst,
// mirroring the relative layout. Failures are logged per file and never stop
// the run; only failing to list src is returned as an error.
func (p *Processor) ProcessDirectory(ctx context.Context, src Source, dst billy.Filesystem) (Summary, []Outcome, error) {
	var summary Summary
	var outcomes []Outcome

	p.Logger.Info("Starting anonymization",
		zap.String("input", src.Root()),
		zap.String("output", dst.Root()))

	files, err := src.List(ctx)
	if err != nil {
		return summary, nil, pfx.Err(err)
	}

	for _, group := range groupByDirectory(files, p.Options.Extension) {
		bar := p.newBar(len(group.files), group.dir)

		for _, rel := range group.files {
			if err := ctx.Err(); err != nil {
				if bar != nil {
					bar.Finish()
				}
				p.logSummary("Anonymization cancelled", summary)
				return summary, outcomes, pfx.Err(err)
			}

			outcome := Outcome{
				Source:      rel,
				Destination: rel,
				Status:      StatusAnonymized,
			}

			nBytes, err := p.ProcessFile(ctx, src, rel, dst)
			outcome.Bytes = nBytes
			summary.Matched++
			summary.Bytes += nBytes
			if err != nil {
				outcome.Status = StatusFailed
				outcome.Error = err.Error()
				summary.Failed++
				p.Logger.Error("Error processing file",
					zap.String("path", joinRoot(src.Root(), rel)),
					zap.Error(err))
			} else {
				summary.Anonymized++
				p.Logger.Debug("Anonymized file", zap.String("path", rel))
			}
			outcomes = append(outcomes, outcome)

			if bar != nil {
				bar.Add(1)
			}
		}

		if bar != nil {
			bar.Finish()
		}
	}

	p.logSummary("Anonymization complete", summary)

	return summary, outcomes, nil
}

func (p *Processor) logSummary(msg string, summary Summary) {
	p.Logger.Info(msg,
		zap.String("matched", humanize.Comma(int64(summary.Matched))),
		zap.String("anonymized", humanize.Comma(int64(summary.Anonymized))),
		zap.String("failed", humanize.Comma(int64(summary.Failed))),
		zap.String("read", humanize.Bytes(uint64(summary.Bytes))))
}

// MatchesExtension reports whether name ends with ext, ignoring case. An
// empty ext matches everything.
func MatchesExtension(name, ext string) bool {
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext))
}

// groupByDirectory keeps the files matching ext and groups them by their
// parent directory. Groups are ordered by first appearance in files.
func groupByDirectory(files []string, ext string) []directoryGroup {
	var groups []directoryGroup
	index := make(map[string]int)

	for _, rel := range files {
		if !MatchesExtension(path.Base(rel), ext) {
			continue
		}

		dir := path.Dir(rel)
		i, ok := index[dir]
		if !ok {
			i = len(groups)
			index[dir] = i
			groups = append(groups, directoryGroup{dir: dir})
		}
		groups[i].files = append(groups[i].files, rel)
	}

	return groups
}

func (p *Processor) newBar(total int, dir string) *progressbar.ProgressBar {
	if !p.Options.Progress || p.ProgressOutput == nil {
		return nil
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.ProgressOutput),
		progressbar.OptionSetDescription("Processing "+dir),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionOnCompletion(func() { p.ProgressOutput.Write([]byte("\n")) }),
	)
}

func joinRoot(root, rel string) string {
	return strings.TrimSuffix(root, "/") + "/" + rel
}
