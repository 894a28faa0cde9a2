package anonymize

import (
	"context"
	"fmt"
	_ "image/jpeg" // encapsulated baseline JPEG frames
	"io"
	"path/filepath"

	"github.com/carbocation/pfx"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"
)

// Options control how each file is read.
type Options struct {
	// Extension selects which files are processed, compared
	// case-insensitively against the end of the file name.
	Extension string

	// Force tolerates files that break header conventions: a missing
	// preamble or file meta header, or a pixel data length that disagrees
	// with the image dimensions.
	Force bool

	// DecodePixels materializes every frame before anonymizing so that
	// undecodable pixel data fails the file instead of being copied through.
	DecodePixels bool

	// Progress enables the per-directory progress bars.
	Progress bool
}

// DefaultOptions mirror what a researcher preparing a dataset expects.
func DefaultOptions() Options {
	return Options{
		Extension:    ".dcm",
		Force:        true,
		DecodePixels: true,
		Progress:     true,
	}
}

// Processor runs the anonymizer over files and directory trees.
type Processor struct {
	Anonymizer *Anonymizer
	Options    Options
	Logger     *zap.Logger

	// ProgressOutput receives the progress bars. Nil disables them.
	ProgressOutput io.Writer
}

// NewProcessor wires an anonymizer to a logger.
func NewProcessor(a *Anonymizer, opts Options, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		Anonymizer: a,
		Options:    opts,
		Logger:     logger,
	}
}

// ProcessFile anonymizes the file at rel in src and writes it to dst at the
// same relative path. It returns the number of bytes read from src.
func (p *Processor) ProcessFile(ctx context.Context, src Source, rel string, dst billy.Filesystem) (int64, error) {
	data, err := readAll(ctx, src, rel)
	if err != nil {
		return 0, err
	}
	nBytes := int64(len(data))

	ds, err := p.load(data)
	if err != nil {
		return nBytes, err
	}

	if p.Options.DecodePixels {
		if err := decodePixels(ds); err != nil {
			return nBytes, err
		}
	}

	if err := p.Anonymizer.Anonymize(&ds); err != nil {
		return nBytes, err
	}

	return nBytes, writeDataset(dst, filepath.FromSlash(rel), ds)
}

func readAll(ctx context.Context, src Source, rel string) ([]byte, error) {
	r, _, err := src.Open(ctx, rel)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return data, nil
}

// load parses data. Without force the file must start with the 128 byte
// preamble and DICM magic word and carry a file meta header. With force a
// missing preamble is tolerated, a header that cannot be read is skipped, and
// a dataset without a file meta header is given one declaring implicit VR
// little endian, the encoding such files use.
func (p *Processor) load(data []byte) (dicom.Dataset, error) {
	if !p.Options.Force {
		if !hasPreamble(data) {
			return dicom.Dataset{}, pfx.Err(fmt.Errorf("no DICM magic word after the preamble"))
		}

		ds, err := safelyParse(data)
		if err != nil {
			return ds, pfx.Err(err)
		}
		if _, err := ds.FindElementByTag(tag.TransferSyntaxUID); err != nil {
			return ds, pfx.Err(fmt.Errorf("no file meta header: %v", err))
		}

		return ds, nil
	}

	data = withPreamble(data)
	opts := []dicom.ParseOption{dicom.AllowMismatchPixelDataLength()}

	ds, err := safelyParse(data, opts...)
	if err != nil {
		p.Logger.Debug("Retrying parse without file meta header", zap.Error(err))

		forced, forcedErr := safelyParse(data, append(opts, dicom.SkipMetadataReadOnNewParserInit())...)
		if forcedErr != nil || !hasDataElements(forced) {
			// The first error describes the file better than the retry's.
			return ds, pfx.Err(err)
		}
		ds = forced
	}

	if !hasDataElements(ds) {
		return ds, pfx.Err(fmt.Errorf("no data elements"))
	}

	if _, err := ds.FindElementByTag(tag.TransferSyntaxUID); err != nil {
		p.Logger.Debug("No file meta header, writing as implicit VR little endian")
		if err := addFileMeta(&ds); err != nil {
			return ds, err
		}
	}

	return ds, nil
}

const (
	preambleLength = 128
	magicWord      = "DICM"

	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
)

func hasPreamble(data []byte) bool {
	return len(data) >= preambleLength+len(magicWord) &&
		string(data[preambleLength:preambleLength+len(magicWord)]) == magicWord
}

// withPreamble restores the preamble, and the magic word if needed, in front
// of files that start directly with either the magic word or the file meta
// group. Anything else is returned unchanged.
func withPreamble(data []byte) []byte {
	switch {
	case hasPreamble(data):
		return data
	case len(data) >= len(magicWord) && string(data[:len(magicWord)]) == magicWord:
		return append(make([]byte, preambleLength), data...)
	case len(data) >= 2 && data[0] == 0x02 && data[1] == 0x00:
		// Little endian group 0x0002: a file meta header without preamble.
		out := make([]byte, preambleLength, preambleLength+len(magicWord)+len(data))
		out = append(out, magicWord...)
		return append(out, data...)
	}

	return data
}

// hasDataElements reports whether ds holds anything beyond the file meta
// group.
func hasDataElements(ds dicom.Dataset) bool {
	for _, elem := range ds.Elements {
		if elem != nil && elem.Tag.Group != 0x0002 {
			return true
		}
	}

	return false
}

// addFileMeta gives a dataset read without a file meta header the elements a
// Part 10 file needs. Missing SOP values are left out rather than invented.
func addFileMeta(ds *dicom.Dataset) error {
	for _, v := range []struct {
		meta tag.Tag
		from tag.Tag
	}{
		{tag.MediaStorageSOPClassUID, tag.SOPClassUID},
		{tag.MediaStorageSOPInstanceUID, tag.SOPInstanceUID},
	} {
		if _, err := ds.FindElementByTag(v.meta); err == nil {
			continue
		}

		elem, err := ds.FindElementByTag(v.from)
		if err != nil {
			continue
		}
		values, ok := elem.Value.GetValue().([]string)
		if !ok || len(values) == 0 {
			continue
		}

		if err := setString(ds, v.meta, values[0]); err != nil {
			return err
		}
	}

	return setString(ds, tag.TransferSyntaxUID, ImplicitVRLittleEndian)
}

// decodePixels turns every frame into an image.Image, which is where
// unsupported or corrupt pixel encodings are caught.
func decodePixels(ds dicom.Dataset) error {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil
	}

	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || info.IntentionallySkipped {
		return nil
	}

	for i, fr := range info.Frames {
		if fr == nil {
			continue
		}
		if _, err := fr.GetImage(); err != nil {
			return pfx.Err(fmt.Errorf("decoding frame %d: %v", i, err))
		}
	}

	return nil
}

// writeDataset writes ds to a temporary file next to the destination and
// renames it into place, so a failed write never leaves a partial file.
func writeDataset(fs billy.Filesystem, name string, ds dicom.Dataset) (err error) {
	dir := filepath.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return pfx.Err(err)
	}

	tmp, err := util.TempFile(fs, dir, ".dicomanon-")
	if err != nil {
		return pfx.Err(err)
	}
	defer func() {
		if err != nil {
			fs.Remove(tmp.Name())
		}
	}()

	if err = safelyWrite(tmp, ds); err != nil {
		tmp.Close()
		return pfx.Err(err)
	}
	if err = tmp.Close(); err != nil {
		return pfx.Err(err)
	}

	if err = fs.Rename(tmp.Name(), name); err != nil {
		return pfx.Err(err)
	}

	return nil
}
