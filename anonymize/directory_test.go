package anonymize

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestProcessDirectoryOnlyMatchingFiles(t *testing.T) {
	in, out := memfs.New(), memfs.New()
	writeFixture(t, in, "one.dcm")
	writeFixture(t, in, "TWO.DCM")
	writeFixture(t, in, "three.dcm.bak")
	require.NoError(t, util.WriteFile(in, "notes.txt", []byte("not an image"), 0o644))

	summary, outcomes, err := newTestProcessor().ProcessDirectory(context.Background(), NewFSSource(in, "in"), out)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Matched)
	assert.Equal(t, 2, summary.Anonymized)
	assert.Zero(t, summary.Failed)
	assert.Len(t, outcomes, 2)

	for _, name := range []string{"one.dcm", "TWO.DCM"} {
		_, err := out.Stat(name)
		assert.NoError(t, err, name)
	}
	for _, name := range []string{"three.dcm.bak", "notes.txt"} {
		_, err := out.Stat(name)
		assert.Error(t, err, name)
	}
}

func TestProcessDirectoryMirrorsLayout(t *testing.T) {
	in, out := memfs.New(), memfs.New()
	writeFixture(t, in, "patient1/study1/img1.dcm")
	writeFixture(t, in, "patient1/study1/img2.dcm")
	writeFixture(t, in, "patient2/img1.dcm")

	summary, _, err := newTestProcessor().ProcessDirectory(context.Background(), NewFSSource(in, "in"), out)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Anonymized)

	for _, name := range []string{"patient1/study1/img1.dcm", "patient1/study1/img2.dcm", "patient2/img1.dcm"} {
		ds := readOutput(t, out, name)
		assert.Empty(t, stringValue(t, ds, tag.PatientName), name)
	}
}

func TestProcessDirectorySkipsCorruptFile(t *testing.T) {
	in, out := memfs.New(), memfs.New()
	writeFixture(t, in, "a.dcm")
	require.NoError(t, util.WriteFile(in, "b.dcm", corruptData, 0o644))
	writeFixture(t, in, "c.dcm")

	core, logs := observer.New(zapcore.InfoLevel)
	p := newTestProcessor()
	p.Logger = zap.New(core)

	summary, outcomes, err := p.ProcessDirectory(context.Background(), NewFSSource(in, "in"), out)
	require.NoError(t, err)

	assert.Equal(t, Summary{Matched: 3, Anonymized: 2, Failed: 1, Bytes: summary.Bytes}, summary)
	assert.Positive(t, summary.Bytes)

	require.Len(t, outcomes, 3)
	assert.Equal(t, StatusAnonymized, outcomes[0].Status)
	assert.Equal(t, StatusFailed, outcomes[1].Status)
	assert.NotEmpty(t, outcomes[1].Error)
	assert.Equal(t, StatusAnonymized, outcomes[2].Status)

	_, err = out.Stat("a.dcm")
	assert.NoError(t, err)
	_, err = out.Stat("b.dcm")
	assert.Error(t, err)
	_, err = out.Stat("c.dcm")
	assert.NoError(t, err)

	failures := logs.FilterMessage("Error processing file").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "in/b.dcm", failures[0].ContextMap()["path"])

	assert.Equal(t, 1, logs.FilterMessage("Anonymization complete").Len())
}

func TestProcessDirectoryNoMatches(t *testing.T) {
	in := memfs.New()
	require.NoError(t, util.WriteFile(in, "readme.txt", []byte("nothing here"), 0o644))

	summary, outcomes, err := newTestProcessor().ProcessDirectory(context.Background(), NewFSSource(in, "in"), memfs.New())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.Empty(t, outcomes)
}

func TestProcessDirectoryStopsWhenCancelled(t *testing.T) {
	in := memfs.New()
	writeFixture(t, in, "a.dcm")

	src := NewFSSource(in, "in")
	files, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)

	// Cancel after listing so the run stops between files.
	ctx, cancel := context.WithCancel(context.Background())
	cancelled := &cancelAfterList{Source: src, cancel: cancel}

	core, logs := observer.New(zapcore.InfoLevel)
	p := newTestProcessor()
	p.Logger = zap.New(core)

	summary, _, err := p.ProcessDirectory(ctx, cancelled, memfs.New())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Error(t, err)
	assert.Zero(t, summary.Matched)

	assert.Equal(t, 1, logs.FilterMessage("Anonymization cancelled").Len())
	assert.Zero(t, logs.FilterMessage("Anonymization complete").Len())
}

// cancelAfterList cancels the run as soon as the file list is returned.
type cancelAfterList struct {
	Source
	cancel context.CancelFunc
}

func (c *cancelAfterList) List(ctx context.Context) ([]string, error) {
	files, err := c.Source.List(ctx)
	c.cancel()
	return files, err
}

func TestProcessDirectoryWithProgress(t *testing.T) {
	in, out := memfs.New(), memfs.New()
	writeFixture(t, in, "x/a.dcm")
	writeFixture(t, in, "y/b.dcm")

	var progress bytes.Buffer
	p := NewProcessor(NewAnonymizer(), DefaultOptions(), nil)
	p.ProgressOutput = &progress

	summary, _, err := p.ProcessDirectory(context.Background(), NewFSSource(in, "in"), out)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Anonymized)
	assert.Contains(t, progress.String(), "Processing x")
	assert.Contains(t, progress.String(), "Processing y")
}

func TestGroupByDirectory(t *testing.T) {
	groups := groupByDirectory([]string{
		"b/2.dcm",
		"a/1.DCM",
		"b/1.txt",
		"b/3.dcm",
		"top.dcm",
	}, ".dcm")

	assert.Equal(t, []directoryGroup{
		{dir: "b", files: []string{"b/2.dcm", "b/3.dcm"}},
		{dir: "a", files: []string{"a/1.DCM"}},
		{dir: ".", files: []string{"top.dcm"}},
	}, groups)
}

func TestMatchesExtension(t *testing.T) {
	assert.True(t, MatchesExtension("scan.dcm", ".dcm"))
	assert.True(t, MatchesExtension("SCAN.DCM", ".dcm"))
	assert.True(t, MatchesExtension("scan.Dcm", ".DCM"))
	assert.True(t, MatchesExtension("anything", ""))
	assert.False(t, MatchesExtension("scan.dcm.bak", ".dcm"))
	assert.False(t, MatchesExtension("dcm", ".dcm"))
}

func TestProcessorNilProgressOutputIsQuiet(t *testing.T) {
	p := NewProcessor(NewAnonymizer(), DefaultOptions(), nil)
	assert.Nil(t, p.newBar(3, "x"))

	p.ProgressOutput = io.Discard
	assert.NotNil(t, p.newBar(3, "x"))
}
