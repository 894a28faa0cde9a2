// dicomanon strips patient-identifying fields from a tree of DICOM files and
// gives every file fresh study, series and instance UIDs, writing the results
// to a mirrored tree. Pixel data and the remaining metadata are left intact.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"

	"github.com/carbocation/dicomanon/anonymize"
	"github.com/carbocation/dicomanon/compileinfo"
	"github.com/carbocation/dicomanon/config"
	"github.com/carbocation/dicomanon/logging"
)

func main() {
	var input, output, configPath, report string
	var verbose bool

	flag.StringVar(&input, "input", "", "Path to the input DICOM directory, a .zip of DICOMs, or a gs://bucket/prefix")
	flag.StringVar(&input, "i", "", "Shorthand for -input")
	flag.StringVar(&output, "output", "", "Path to the directory where anonymized DICOMs are saved")
	flag.StringVar(&output, "o", "", "Shorthand for -output")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&verbose, "v", false, "Shorthand for -verbose")
	flag.StringVar(&configPath, "config", "", "(Optional) Path to a yaml, json or toml config file")
	flag.StringVar(&report, "report", "", "(Optional) Path to a CSV file listing the outcome for each file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s -i <input> -o <output> [-v]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if input == "" || output == "" {
		flag.Usage()
		os.Exit(1)
	}

	logger, err := logging.New(verbose)
	if err != nil {
		log.Fatalln(err)
	}

	logger.Debug("Build", compileinfo.Get().Fields()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, logger, input, output, configPath, report)
	stop()
	logger.Sync()

	os.Exit(code)
}

// execute runs one anonymization and returns the process exit code. Failures
// of individual files do not change it.
func execute(ctx context.Context, logger *zap.Logger, input, output, configPath, report string) int {
	if err := run(ctx, logger, input, output, configPath, report); err != nil {
		logger.Error("Anonymization failed", zap.Error(err))
		return 1
	}

	return 0
}

func run(ctx context.Context, logger *zap.Logger, input, output, configPath, report string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}

	anonymizer, err := settings.Anonymizer()
	if err != nil {
		return err
	}

	src, err := anonymize.OpenSource(ctx, input)
	if err != nil {
		return err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	if err := os.MkdirAll(output, 0o755); err != nil {
		return err
	}

	processor := anonymize.NewProcessor(anonymizer, settings.Options, logger)
	processor.ProgressOutput = os.Stderr

	_, outcomes, err := processor.ProcessDirectory(ctx, src, osfs.New(output))
	if err != nil {
		return err
	}

	if report != "" {
		if err := anonymize.WriteReportFile(report, outcomes); err != nil {
			return err
		}
		logger.Info("Wrote report", zap.String("path", report))
	}

	return nil
}
