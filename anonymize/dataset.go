package anonymize

import (
	"fmt"

	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// DefaultDeidentificationMethod is written to (0012,0063).
	DefaultDeidentificationMethod = "Anonymized by ADOPT"

	patientIdentityRemovedValue = "YES"
)

// Anonymizer clears identifying elements of a dataset and gives it fresh
// study, series and instance UIDs.
type Anonymizer struct {
	Tags   TagSet
	UIDs   *UIDGenerator
	Method string
}

// NewAnonymizer returns an Anonymizer that clears IdentifyingTags plus any
// extra tags, and generates UIDs under UUIDRoot.
func NewAnonymizer(extra ...tag.Tag) *Anonymizer {
	tags := NewTagSet(IdentifyingTags...)
	tags.Add(extra...)

	return &Anonymizer{
		Tags:   tags,
		UIDs:   &UIDGenerator{Root: UUIDRoot},
		Method: DefaultDeidentificationMethod,
	}
}

// Anonymize mutates ds in place.
func (a *Anonymizer) Anonymize(ds *dicom.Dataset) error {
	for _, elem := range ds.Elements {
		if elem == nil || !a.Tags.Contains(elem.Tag) {
			continue
		}

		empty, err := emptyValueLike(elem.Value)
		if err != nil {
			return pfx.Err(fmt.Errorf("clearing %v: %v", elem.Tag, err))
		}
		elem.Value = empty
	}

	sopInstanceUID := a.UIDs.New()
	for _, update := range []struct {
		t     tag.Tag
		value string
	}{
		{StudyInstanceUID, a.UIDs.New()},
		{SeriesInstanceUID, a.UIDs.New()},
		{SOPInstanceUID, sopInstanceUID},
		{PatientIdentityRemoved, patientIdentityRemovedValue},
		{DeidentificationMethod, a.Method},
	} {
		if err := setString(ds, update.t, update.value); err != nil {
			return err
		}
	}

	// The file meta header repeats the SOP Instance UID; leaving the old one
	// there would link the output back to the source.
	if elem, err := ds.FindElementByTag(tag.MediaStorageSOPInstanceUID); err == nil {
		v, err := dicom.NewValue([]string{sopInstanceUID})
		if err != nil {
			return pfx.Err(err)
		}
		elem.Value = v
	}

	return nil
}

// emptyValueLike returns an empty value of the same kind as v so that the
// element still encodes with its original VR.
func emptyValueLike(v dicom.Value) (dicom.Value, error) {
	if v == nil {
		return dicom.NewValue([]string{""})
	}

	switch v.ValueType() {
	case dicom.Bytes:
		return dicom.NewValue([]byte{})
	case dicom.Ints:
		return dicom.NewValue([]int{})
	case dicom.Floats:
		return dicom.NewValue([]float64{})
	case dicom.Sequences:
		return dicom.NewValue([][]*dicom.Element{})
	case dicom.Strings:
		return dicom.NewValue([]string{""})
	}

	return nil, fmt.Errorf("cannot clear a value of type %v", v.ValueType())
}

// setString replaces the value of t, or inserts a new element in tag order
// when ds does not have one.
func setString(ds *dicom.Dataset, t tag.Tag, value string) error {
	if elem, err := ds.FindElementByTag(t); err == nil {
		v, err := dicom.NewValue([]string{value})
		if err != nil {
			return pfx.Err(err)
		}
		elem.Value = v
		return nil
	}

	elem, err := dicom.NewElement(t, []string{value})
	if err != nil {
		return pfx.Err(fmt.Errorf("creating %v: %v", t, err))
	}
	insertElement(ds, elem)

	return nil
}

// insertElement places elem before the first non file-meta element with a
// greater tag, keeping the dataset in ascending tag order.
func insertElement(ds *dicom.Dataset, elem *dicom.Element) {
	at := len(ds.Elements)
	for i, existing := range ds.Elements {
		if existing == nil || existing.Tag.Group == 0x0002 {
			continue
		}
		if tagLess(elem.Tag, existing.Tag) {
			at = i
			break
		}
	}

	ds.Elements = append(ds.Elements, nil)
	copy(ds.Elements[at+1:], ds.Elements[at:])
	ds.Elements[at] = elem
}

func tagLess(a, b tag.Tag) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Element < b.Element
}
