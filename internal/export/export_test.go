package export

import (
	"bytes"
	"testing"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecording() Recording {
	return Recording{
		Session:  "5b0c3a43-1f34-4d27-9c58-0b8f4e0ad7c1",
		Prefixes: []string{"/Dash/"},
		Started:  "2026-01-10 14:02:11.000120",
		Duration: "1s",
		Topics: map[string][]models.ValueRecord{
			"/Dash/Mode": {
				{Valid: true, LastChange: "2026-01-10 14:02:11.100000", Type: "string", Size: 4, Value: "auto"},
				{Valid: true, LastChange: "2026-01-10 14:02:11.200000", Type: "string", Size: 6, Value: "teleop"},
			},
			"/Dash/Enabled": {
				{Valid: true, Type: "boolean", Size: 1, Value: true},
			},
		},
	}
}

func TestWriteReadEveryFormat(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatYAML, FormatCBOR} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			want := sampleRecording()
			require.NoError(t, Write(&buf, f, want))
			require.NotZero(t, buf.Len())

			got, err := Read(&buf, f)
			require.NoError(t, err)
			assert.Equal(t, want.Session, got.Session)
			assert.Equal(t, want.Prefixes, got.Prefixes)
			assert.Equal(t, want.Started, got.Started)
			require.Len(t, got.Topics["/Dash/Mode"], 2)
			assert.Equal(t, "teleop", got.Topics["/Dash/Mode"][1].Value)
			assert.Equal(t, 6, got.Topics["/Dash/Mode"][1].Size)
			assert.Equal(t, "2026-01-10 14:02:11.200000", got.Topics["/Dash/Mode"][1].LastChange)
			assert.Equal(t, true, got.Topics["/Dash/Enabled"][0].Value)
		})
	}
}

func TestJSONUsesRecordFieldNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleRecording()))

	for _, key := range []string{`"valid"`, `"last_change"`, `"server_time"`, `"local_time"`, `"type"`, `"size"`, `"value"`} {
		assert.Contains(t, buf.String(), key)
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Write(&a, FormatCBOR, sampleRecording()))
	require.NoError(t, Write(&b, FormatCBOR, sampleRecording()))
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	assert.Equal(t, "yaml", f.Extension())

	_, err = ParseFormat("xml")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	assert.ErrorIs(t, Write(&bytes.Buffer{}, Format("xml"), Recording{}), ErrUnknownFormat)
	_, err = Read(&bytes.Buffer{}, Format("xml"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
