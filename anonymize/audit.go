package anonymize

import (
	"context"
	"fmt"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"
)

const (
	ProblemNotEmpty      = "identifying element not empty"
	ProblemMarkerMissing = "anonymization marker missing"
	ProblemUnreadable    = "unreadable"
)

// Finding is one reason a file does not look anonymized. Element values are
// never recorded.
type Finding struct {
	Path    string `csv:"path"`
	Tag     string `csv:"tag"`
	Name    string `csv:"name"`
	Problem string `csv:"problem"`
}

// Check lists the identifying elements of ds that still hold a value, and
// whether the anonymization marker is absent.
func (a *Anonymizer) Check(ds dicom.Dataset) []Finding {
	var out []Finding
	var marked bool

	for _, elem := range ds.Elements {
		if elem == nil {
			continue
		}
		if elem.Tag == PatientIdentityRemoved && hasString(elem.Value, "YES") {
			marked = true
		}
		if !a.Tags.Contains(elem.Tag) || isEmptyValue(elem.Value) {
			continue
		}
		out = append(out, newFinding(elem.Tag, ProblemNotEmpty))
	}

	if !marked {
		out = append(out, newFinding(PatientIdentityRemoved, ProblemMarkerMissing))
	}

	return out
}

// AuditDirectory parses every matching file below src and checks it. Files
// that cannot be parsed are reported as findings rather than errors.
func (p *Processor) AuditDirectory(ctx context.Context, src Source) (checked int, findings []Finding, err error) {
	files, err := src.List(ctx)
	if err != nil {
		return 0, nil, pfx.Err(err)
	}

	for _, group := range groupByDirectory(files, p.Options.Extension) {
		for _, rel := range group.files {
			if err := ctx.Err(); err != nil {
				return checked, findings, pfx.Err(err)
			}
			checked++

			data, err := readAll(ctx, src, rel)
			if err == nil {
				var ds dicom.Dataset
				ds, err = p.load(data)
				if err == nil {
					for _, f := range p.Anonymizer.Check(ds) {
						f.Path = rel
						findings = append(findings, f)
						p.Logger.Warn("Not anonymized",
							zap.String("path", joinRoot(src.Root(), rel)),
							zap.String("tag", f.Tag),
							zap.String("name", f.Name),
							zap.String("problem", f.Problem))
					}
					continue
				}
			}

			findings = append(findings, Finding{Path: rel, Problem: fmt.Sprintf("%s: %v", ProblemUnreadable, err)})
			p.Logger.Error("Error auditing file",
				zap.String("path", joinRoot(src.Root(), rel)),
				zap.Error(err))
		}
	}

	return checked, findings, nil
}

func newFinding(tg tag.Tag, problem string) Finding {
	f := Finding{Tag: tg.String(), Problem: problem}
	if info, err := tag.Find(tg); err == nil {
		f.Name = info.Name
	}

	return f
}

func isEmptyValue(v dicom.Value) bool {
	if v == nil {
		return true
	}

	switch data := v.GetValue().(type) {
	case []string:
		for _, s := range data {
			if strings.TrimRight(s, " \x00") != "" {
				return false
			}
		}
		return true
	case []byte:
		return len(data) == 0
	case []int:
		return len(data) == 0
	case []float64:
		return len(data) == 0
	case []*dicom.SequenceItemValue:
		return len(data) == 0
	}

	return false
}

func hasString(v dicom.Value, want string) bool {
	if v == nil {
		return false
	}

	data, ok := v.GetValue().([]string)
	if !ok {
		return false
	}

	for _, s := range data {
		if strings.TrimRight(s, " \x00") == want {
			return true
		}
	}

	return false
}
