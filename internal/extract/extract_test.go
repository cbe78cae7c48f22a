package extract

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatentTriage/internal/apperr"
	"PatentTriage/internal/domain"
)

func grantXML(number, title, abstract string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE us-patent-grant SYSTEM "us-patent-grant-v45-2014-04-03.dtd" [ ]>
<us-patent-grant lang="EN" dtd-version="v4.5 2014-04-03">
  <us-bibliographic-data-grant>
    <publication-reference>
      <document-id>
        <country>US</country>
        <doc-number>%s</doc-number>
        <kind>B2</kind>
        <date>20240102</date>
      </document-id>
    </publication-reference>
    <application-reference appl-type="utility">
      <document-id><country>US</country><doc-number>99999999</doc-number><date>20200101</date></document-id>
    </application-reference>
    <invention-title id="d2e43">%s</invention-title>
  </us-bibliographic-data-grant>
  <abstract id="abstract">
    <p id="p-0001" num="0000">%s</p>
  </abstract>
</us-patent-grant>
`, number, title, abstract)
}

func newTestExtractor() *Extractor {
	return NewExtractor(NewDefaultRegistry(Columns{}, nil), nil)
}

func collect(t *testing.T, name string, data []byte) []domain.Document {
	t.Helper()

	seq, err := newTestExtractor().Extract(context.Background(), name, bytes.NewReader(data))
	require.NoError(t, err)
	return slices.Collect(seq)
}

func ids(docs []domain.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ExternalID)
	}
	return out
}

func TestExtractCSVAliasesAndFallbacks(t *testing.T) {
	t.Parallel()

	data := "\ufeffDocument ID,Title,Notes,Date Published,Source\n" +
		"US-1,Robotic arm for demining,A gripper arm that excavates &amp; removes <b>mines</b>,2024-01-02,grant\n" +
		"US-2,Tracked mine clearing vehicle,,2024-01-03,\n" +
		"US-3,Short,tiny,2024-01-04,\n" +
		",No identifier here at all,Some abstract text long enough,2024-01-05,\n" +
		"US-1,Robotic arm for demining,A gripper arm that excavates &amp; removes <b>mines</b>,2024-01-02,grant\n"

	docs := collect(t, "export.csv", []byte(data))

	require.Equal(t, []string{"US-1", "US-2", "US-1"}, ids(docs))
	assert.Equal(t, "A gripper arm that excavates & removes mines", docs[0].Abstract)
	assert.Equal(t, domain.SourceGrant, docs[0].Source)
	assert.Equal(t, "2024-01-02", docs[0].PublicationDate)
	assert.Equal(t, "Tracked mine clearing vehicle", docs[1].Abstract, "title is the abstract fallback")
	assert.Equal(t, domain.SourceCSV, docs[1].Source)
}

func TestExtractCSVSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	data := "patent_id,title,abstract\n" +
		"US-10,Sensor,\"Ground penetrating radar sensor head\"\n" +
		"US-11,extra,\"field with \"stray\" quotes and more text\",unexpected\n" +
		"US-12,Wheel,Wheeled chassis with suspension\n"

	docs := collect(t, "rows.csv", []byte(data))

	assert.Contains(t, ids(docs), "US-10")
	assert.Contains(t, ids(docs), "US-12")
}

func TestExtractCSVWithoutIDColumn(t *testing.T) {
	t.Parallel()

	docs := collect(t, "rows.csv", []byte("name,abstract\nx,long enough abstract text\n"))
	assert.Empty(t, docs)
}

func TestExtractCSVKeepsPlainTextInequalities(t *testing.T) {
	t.Parallel()

	data := "patent_id,title,abstract\n" +
		"US-20,Transistor,A transistor where Vgs<Vth keeps leakage below one nanoampere.\n" +
		"US-21,Gate,Gate bias 3 < 5 volts &amp; drain at <i>rest</i>\n" +
		"US-22,Entity,Threshold &lt; one volt for the sense amplifier\n"

	docs := collect(t, "rows.csv", []byte(data))

	require.Equal(t, []string{"US-20", "US-21", "US-22"}, ids(docs))
	assert.Equal(t, "A transistor where Vgs<Vth keeps leakage below one nanoampere.", docs[0].Abstract)
	assert.Equal(t, "Gate bias 3 < 5 volts & drain at rest", docs[1].Abstract)
	assert.Equal(t, "Threshold < one volt for the sense amplifier", docs[2].Abstract)
}

func TestCleanCell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"  plain  ", "plain"},
		{"a<b and c>d", "a<b and c>d"},
		{"x &amp;  y", "x & y"},
		{"<p>one</p> <p>two</p>", "one two"},
		{"<!-- note -->kept", "kept"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanCell(tt.in), tt.in)
	}
}

func TestExtractXMLSingleDocument(t *testing.T) {
	t.Parallel()

	docs := collect(t, "ipg240102.xml", []byte(grantXML("11234567", "Mine detection &amp; removal", "A vehicle with ground penetrating radar&mdash;and a <b>gripper</b> arm.")))

	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, "US11234567B2", doc.ExternalID)
	assert.Equal(t, "Mine detection & removal", doc.Title)
	assert.Equal(t, "A vehicle with ground penetrating radar—and a gripper arm.", doc.Abstract)
	assert.Equal(t, "20240102", doc.PublicationDate)
	assert.Equal(t, domain.SourceGrant, doc.Source)
}

func TestExtractXMLIdentifierFallsBackToDocNumber(t *testing.T) {
	t.Parallel()

	data := `<?xml version="1.0"?>
<us-patent-application>
  <us-bibliographic-data-application>
    <publication-reference><document-id><doc-number>20240001234</doc-number><date>20240104</date></document-id></publication-reference>
    <invention-title>Autonomous platform</invention-title>
  </us-bibliographic-data-application>
  <abstract><p>First paragraph here.</p><p>  Second   paragraph. </p></abstract>
</us-patent-application>`

	docs := collect(t, "ipa.xml", []byte(data))

	require.Len(t, docs, 1)
	assert.Equal(t, "20240001234", docs[0].ExternalID)
	assert.Equal(t, "First paragraph here. Second paragraph.", docs[0].Abstract)
	assert.Equal(t, domain.SourcePregrant, docs[0].Source)
}

func TestExtractConcatenatedXML(t *testing.T) {
	t.Parallel()

	data := grantXML("1", "Radar vehicle", "Vehicle carrying ground penetrating radar.") +
		grantXML("2", "Broken", "Unclosed <b>markup in this abstract.") +
		grantXML("3", "Gripper", "Gripper arm that lifts detected objects.")

	docs := collect(t, "ipg.xml", []byte(data))

	assert.Equal(t, []string{"US1B2", "US3B2"}, ids(docs))
}

func TestExtractXMLKeepsDocumentsBeforeError(t *testing.T) {
	t.Parallel()

	data := `<?xml version="1.0"?>
<patents>
  <us-patent-grant>
    <publication-reference><document-id><doc-number>777</doc-number></document-id></publication-reference>
    <abstract><p>Thermal camera mounted on a mast.</p></abstract>
  </us-patent-grant>
  <us-patent-grant>
    <abstract><p>truncated`

	docs := collect(t, "partial.xml", []byte(data))
	assert.Equal(t, []string{"777"}, ids(docs))
}

func gzipBytes(t *testing.T, payload string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractGzip(t *testing.T) {
	t.Parallel()

	docs := collect(t, "ipg240102.xml.gz", gzipBytes(t, grantXML("5", "Lidar", "Lidar mapping of minefields from a drone.")))
	assert.Equal(t, []string{"US5B2"}, ids(docs))
}

func TestExtractGzipCorruptHeader(t *testing.T) {
	t.Parallel()

	_, err := newTestExtractor().Extract(context.Background(), "bad.gz", strings.NewReader("not gzip at all"))

	var extractErr *Error
	require.True(t, errors.As(err, &extractErr), "got %v", err)
	assert.Equal(t, KindGzip, extractErr.Kind)
}

func TestExtractZipSkipsBadEntries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name string, payload []byte) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
	}
	write("a.xml", []byte(grantXML("10", "Arm", "Manipulator arm with a gripper.")))
	write("b.xml.gz", []byte("corrupt gzip payload"))
	write("readme.txt", []byte("ignored"))
	write("nested/c.xml.gz", gzipBytes(t, grantXML("11", "Tracks", "Tracked chassis for rough terrain.")))
	require.NoError(t, zw.Close())

	docs := collect(t, "bulk.zip", buf.Bytes())
	assert.Equal(t, []string{"US10B2", "US11B2"}, ids(docs))
}

func TestExtractZipUnreadableDirectory(t *testing.T) {
	t.Parallel()

	_, err := newTestExtractor().Extract(context.Background(), "bulk.zip", strings.NewReader("PK\x03\x04garbage"))

	var extractErr *Error
	assert.True(t, errors.As(err, &extractErr), "got %v", err)
}

func TestExtractRejectsUnsupportedExtension(t *testing.T) {
	t.Parallel()

	_, err := newTestExtractor().Extract(context.Background(), "report.pdf", strings.NewReader("%PDF"))
	assert.ErrorIs(t, err, apperr.ErrUnsupportedFormat)
	assert.ErrorIs(t, CheckName("notes.TXT"), apperr.ErrUnsupportedFormat)
	assert.NoError(t, CheckName("IPG.XML"))
}

func TestExtractSniffsExtensionlessInput(t *testing.T) {
	t.Parallel()

	docs := collect(t, "upload", []byte(grantXML("42", "Sniffed", "Detected as xml from its first byte.")))
	assert.Equal(t, []string{"US42B2"}, ids(docs))

	assert.Equal(t, KindZip, Sniff([]byte("PK\x03\x04rest")))
	assert.Equal(t, KindGzip, Sniff([]byte{0x1f, 0x8b, 0x08}))
	assert.Equal(t, KindCSV, Sniff([]byte("patent_id,title\n")))
}

func TestExtractSequenceIsSingleUse(t *testing.T) {
	t.Parallel()

	seq, err := newTestExtractor().Extract(context.Background(), "one.csv",
		strings.NewReader("patent_id,abstract\nUS-1,abstract long enough\n"))
	require.NoError(t, err)

	assert.Len(t, slices.Collect(seq), 1)
	assert.Empty(t, slices.Collect(seq))
}

func TestNormalizeHeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "date_published", normalizeHeader(" Date Published "))
	assert.Equal(t, "patent_id", normalizeHeader("\ufeffPatent-ID"))
	assert.Equal(t, "pub_date", normalizeHeader("Pub/Date"))
}
