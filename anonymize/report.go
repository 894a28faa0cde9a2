package anonymize

import (
	"io"
	"os"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"
)

// WriteReport emits one CSV row per outcome, with a header. Only relative
// paths and error messages are written, never element values.
func WriteReport(w io.Writer, outcomes []Outcome) error {
	if outcomes == nil {
		outcomes = []Outcome{}
	}

	return pfx.Err(gocsv.Marshal(&outcomes, w))
}

// WriteReportFile creates (or truncates) path and writes the report into it.
func WriteReportFile(path string, outcomes []Outcome) error {
	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}

	if err := WriteReport(f, outcomes); err != nil {
		f.Close()
		return err
	}

	return pfx.Err(f.Close())
}
