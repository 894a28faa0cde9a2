// dicomaudit checks a tree of DICOM files (typically the output of
// dicomanon) for identifying elements that still hold a value and for files
// missing the anonymization marker. Findings are written to stdout as CSV and
// never include element values. The exit status is 2 when anything was found.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/carbocation/dicomanon/anonymize"
	"github.com/carbocation/dicomanon/config"
	"github.com/carbocation/dicomanon/logging"
)

var (
	BufferSize = 4096
	STDOUT     = bufio.NewWriterSize(os.Stdout, BufferSize)
)

func main() {
	var input, configPath string
	var verbose bool

	flag.StringVar(&input, "input", "", "Path to a directory, a .zip file, or a gs:// prefix holding anonymized DICOMs")
	flag.StringVar(&input, "i", "", "Shorthand for -input")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&verbose, "v", false, "Shorthand for -verbose")
	flag.StringVar(&configPath, "config", "", "(Optional) Path to the config file used for the anonymization run")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s -i <input> [-config <file>] [-v]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if input == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger, err := logging.New(verbose)
	if err != nil {
		log.Fatalln(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, logger, input, configPath, STDOUT)
	stop()
	logger.Sync()

	os.Exit(code)
}

// execute audits input, writes the findings to w and flushes it. It returns
// 0 for a clean tree, 2 when there were findings and 1 when the audit itself
// failed.
func execute(ctx context.Context, logger *zap.Logger, input, configPath string, w *bufio.Writer) int {
	findings, err := run(ctx, logger, input, configPath)
	if err != nil {
		logger.Error("Audit failed", zap.Error(err))
		return 1
	}

	if err := writeFindings(w, findings); err != nil {
		logger.Error("Could not write findings", zap.Error(err))
		return 1
	}
	if err := w.Flush(); err != nil {
		logger.Error("Could not write findings", zap.Error(err))
		return 1
	}

	if len(findings) > 0 {
		return 2
	}

	return 0
}

func run(ctx context.Context, logger *zap.Logger, input, configPath string) ([]anonymize.Finding, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	anonymizer, err := settings.Anonymizer()
	if err != nil {
		return nil, err
	}

	src, err := anonymize.OpenSource(ctx, input)
	if err != nil {
		return nil, err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	processor := anonymize.NewProcessor(anonymizer, settings.Options, logger)

	checked, findings, err := processor.AuditDirectory(ctx, src)
	if err != nil {
		return nil, err
	}

	logger.Info("Audit complete",
		zap.Int("checked", checked),
		zap.Int("findings", len(findings)))

	return findings, nil
}

func writeFindings(w io.Writer, findings []anonymize.Finding) error {
	if findings == nil {
		findings = []anonymize.Finding{}
	}

	return gocsv.Marshal(&findings, w)
}
