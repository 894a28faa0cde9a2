package anonymize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// IdentifyingTags are the elements whose values are cleared. The elements
// themselves are kept so that downstream tooling which expects them to exist
// keeps working.
var IdentifyingTags = []tag.Tag{
	// Patient
	tag.PatientName,
	tag.PatientID,
	tag.PatientBirthDate,
	tag.PatientSex,
	tag.OtherPatientIDs,
	tag.OtherPatientNames,
	tag.EthnicGroup,
	tag.PatientComments,

	// Institution and staff
	tag.ReferringPhysicianName,
	tag.InstitutionName,
	tag.InstitutionAddress,
	tag.OperatorsName,
	tag.PerformingPhysicianName,
	tag.RequestingPhysician,
	tag.StationName,
	tag.DeviceSerialNumber,

	// Study and series
	tag.AccessionNumber,
	tag.StudyID,
	tag.SeriesDescription,
	tag.StudyDescription,
}

// Identifier elements that are regenerated for every record.
var (
	StudyInstanceUID  = tag.StudyInstanceUID
	SeriesInstanceUID = tag.SeriesInstanceUID
	SOPInstanceUID    = tag.SOPInstanceUID
)

// Marker elements added to every record.
var (
	PatientIdentityRemoved = tag.Tag{Group: 0x0012, Element: 0x0062}
	DeidentificationMethod = tag.Tag{Group: 0x0012, Element: 0x0063}
)

// TagSet is a set of tags with O(1) membership.
type TagSet map[tag.Tag]struct{}

// NewTagSet builds a set from the given tags.
func NewTagSet(tags ...tag.Tag) TagSet {
	out := make(TagSet, len(tags))
	out.Add(tags...)
	return out
}

func (s TagSet) Add(tags ...tag.Tag) {
	for _, t := range tags {
		s[t] = struct{}{}
	}
}

func (s TagSet) Contains(t tag.Tag) bool {
	_, ok := s[t]
	return ok
}

// ParseTag resolves a tag from its dictionary keyword ("PatientAddress") or
// from its hex form, with or without punctuation: "(0010,1040)", "0010,1040"
// and "00101040" are all accepted.
func ParseTag(s string) (tag.Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return tag.Tag{}, pfx.Err(fmt.Errorf("empty tag"))
	}

	hex := strings.NewReplacer("(", "", ")", "", ",", "", " ", "").Replace(s)
	if len(hex) == 8 {
		if v, err := strconv.ParseUint(hex, 16, 32); err == nil {
			return tag.Tag{Group: uint16(v >> 16), Element: uint16(v)}, nil
		}
	}

	info, err := tag.FindByName(s)
	if err != nil {
		return tag.Tag{}, pfx.Err(fmt.Errorf("unknown tag %q: %v", s, err))
	}

	return info.Tag, nil
}

// ParseTags resolves every entry of names, failing on the first bad one.
func ParseTags(names []string) ([]tag.Tag, error) {
	out := make([]tag.Tag, 0, len(names))
	for _, name := range names {
		t, err := ParseTag(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, nil
}
