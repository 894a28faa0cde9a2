package anonymize

import (
	"bytes"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom"
)

// safelyParse consumes panics emitted by the dicom library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func safelyParse(data []byte, opts ...dicom.ParseOption) (ds dicom.Dataset, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("dicom parser panicked: %v", panicErr)
		}
	}()

	return dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, opts...)
}

// safelyWrite is the writing counterpart of safelyParse.
func safelyWrite(w io.Writer, ds dicom.Dataset, opts ...dicom.WriteOption) (err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("dicom writer panicked: %v", panicErr)
		}
	}()

	return dicom.Write(w, ds, opts...)
}
