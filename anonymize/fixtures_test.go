package anonymize

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	fixtureRows = 4
	fixtureCols = 3

	fixtureStudyUID  = "1.2.826.0.1.3680043.2.1125.1.1"
	fixtureSeriesUID = "1.2.826.0.1.3680043.2.1125.1.2"
	fixtureSOPUID    = "1.2.826.0.1.3680043.2.1125.1.3"
)

func mustElement(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()

	elem, err := dicom.NewElement(tg, data)
	require.NoError(t, err)

	return elem
}

// fixturePixel is the value stored at row y, column x of the fixture image.
func fixturePixel(x, y int) uint16 {
	return uint16(1000 + y*fixtureCols + x)
}

// fixturePixels lists every fixture pixel in row-major order.
func fixturePixels() []uint16 {
	var out []uint16
	for y := 0; y < fixtureRows; y++ {
		for x := 0; x < fixtureCols; x++ {
			out = append(out, fixturePixel(x, y))
		}
	}

	return out
}

// newFixtureDataset returns a small CT-like dataset with every kind of
// identifying element populated and a 4x3 16-bit native frame.
func newFixtureDataset(t *testing.T) dicom.Dataset {
	t.Helper()

	nativeFrame := frame.NativeFrame{
		Data:          make([][]int, fixtureRows*fixtureCols),
		Rows:          fixtureRows,
		Cols:          fixtureCols,
		BitsPerSample: 16,
	}
	for y := 0; y < fixtureRows; y++ {
		for x := 0; x < fixtureCols; x++ {
			nativeFrame.Data[y*fixtureCols+x] = []int{int(fixturePixel(x, y))}
		}
	}

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}

	return dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{fixtureSOPUID}),
		mustElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustElement(t, tag.SOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustElement(t, tag.SOPInstanceUID, []string{fixtureSOPUID}),
		mustElement(t, tag.AccessionNumber, []string{"ACC12345"}),
		mustElement(t, tag.Modality, []string{"CT"}),
		mustElement(t, tag.InstitutionName, []string{"General Hospital"}),
		mustElement(t, tag.ReferringPhysicianName, []string{"House^Gregory"}),
		mustElement(t, tag.StationName, []string{"CT01"}),
		mustElement(t, tag.StudyDescription, []string{"CHEST W/O CONTRAST"}),
		mustElement(t, tag.SeriesDescription, []string{"AXIAL 1.25"}),
		mustElement(t, tag.PatientName, []string{"Doe^Jane"}),
		mustElement(t, tag.PatientID, []string{"MRN-0042"}),
		mustElement(t, tag.PatientBirthDate, []string{"19700101"}),
		mustElement(t, tag.PatientSex, []string{"F"}),
		mustElement(t, tag.DeviceSerialNumber, []string{"SN-998877"}),
		mustElement(t, tag.StudyInstanceUID, []string{fixtureStudyUID}),
		mustElement(t, tag.SeriesInstanceUID, []string{fixtureSeriesUID}),
		mustElement(t, tag.StudyID, []string{"STUDY7"}),
		mustElement(t, tag.SamplesPerPixel, []int{1}),
		mustElement(t, tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustElement(t, tag.Rows, []int{fixtureRows}),
		mustElement(t, tag.Columns, []int{fixtureCols}),
		mustElement(t, tag.BitsAllocated, []int{16}),
		mustElement(t, tag.BitsStored, []int{16}),
		mustElement(t, tag.HighBit, []int{15}),
		mustElement(t, tag.PixelRepresentation, []int{0}),
		mustElement(t, tag.PixelData, pixelDataInfo),
	}}
}

func encodeDataset(t *testing.T, ds dicom.Dataset) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, dicom.Write(&buf, ds))

	return buf.Bytes()
}

// encodeWithoutFileMeta encodes the fixture as implicit VR little endian and
// then drops the preamble, the magic word and the whole file meta group,
// leaving a bare dataset.
func encodeWithoutFileMeta(t *testing.T) []byte {
	t.Helper()

	ds := newFixtureDataset(t)
	elem, err := ds.FindElementByTag(tag.TransferSyntaxUID)
	require.NoError(t, err)
	elem.Value, err = dicom.NewValue([]string{ImplicitVRLittleEndian})
	require.NoError(t, err)

	data := encodeDataset(t, ds)
	require.True(t, hasPreamble(data))

	// The meta group opens with (0002,0000) UL, whose 4 byte value is the
	// length of the rest of the group.
	require.Equal(t, []byte{0x02, 0x00, 0x00, 0x00}, data[132:136])
	groupLength := binary.LittleEndian.Uint32(data[140:144])

	return data[144+int(groupLength):]
}

func writeFixture(t *testing.T, fs billy.Filesystem, name string) {
	t.Helper()

	require.NoError(t, util.WriteFile(fs, name, encodeDataset(t, newFixtureDataset(t)), 0o644))
}

func readOutput(t *testing.T, fs billy.Filesystem, name string) dicom.Dataset {
	t.Helper()

	data, err := util.ReadFile(fs, name)
	require.NoError(t, err)

	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)

	return ds
}

// stringValues returns the trimmed string values of tg, failing the test when
// the element is absent.
func stringValues(t *testing.T, ds dicom.Dataset, tg tag.Tag) []string {
	t.Helper()

	elem, err := ds.FindElementByTag(tg)
	require.NoError(t, err, "element %v missing", tg)

	values := dicom.MustGetStrings(elem.Value)
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.TrimRight(v, " \x00")
	}

	return out
}

func stringValue(t *testing.T, ds dicom.Dataset, tg tag.Tag) string {
	t.Helper()

	return strings.Join(stringValues(t, ds, tg), `\`)
}

// pixelValues decodes the first frame of ds into row-major 16-bit values.
func pixelValues(t *testing.T, ds dicom.Dataset) []uint16 {
	t.Helper()

	elem, err := ds.FindElementByTag(tag.PixelData)
	require.NoError(t, err)

	info := dicom.MustGetPixelDataInfo(elem.Value)
	require.NotEmpty(t, info.Frames)

	img, err := info.Frames[0].GetImage()
	require.NoError(t, err)

	bounds := img.Bounds()
	var out []uint16
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out = append(out, color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
		}
	}

	return out
}

// corruptData is too short to hold even a preamble or a single element.
var corruptData = []byte("abcdef")
