package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/pkg/models"
)

func TestFrameReaderDecodesSuccessiveLines(t *testing.T) {
	input := `{"schema_version":1,"kind":"run.status","request_id":"r1","payload":{"run_id":"a"}}
{"schema_version":1,"kind":"run.status","request_id":"r2","payload":{"run_id":"b"}}
`
	r := NewFrameReader(strings.NewReader(input))

	f1, rpcErr, err := r.ReadFrame()
	require.NoError(t, err)
	require.Nil(t, rpcErr)
	require.Equal(t, "r1", f1.RequestID)

	f2, rpcErr, err := r.ReadFrame()
	require.NoError(t, err)
	require.Nil(t, rpcErr)
	require.Equal(t, "r2", f2.RequestID)

	_, _, err = r.ReadFrame()
	require.ErrorIs(t, err, io.EOF)
}

func TestFrameReaderReportsInvalidJSONAsRPCError(t *testing.T) {
	r := NewFrameReader(strings.NewReader("not json\n"))
	_, rpcErr, err := r.ReadFrame()
	require.NoError(t, err)
	require.NotNil(t, rpcErr)
	require.Equal(t, "invalid_json", rpcErr.Code)
}

func TestFrameReaderSkipsBlankLines(t *testing.T) {
	r := NewFrameReader(strings.NewReader("\n\n{\"schema_version\":1,\"kind\":\"run.status\"}\n"))
	f, rpcErr, err := r.ReadFrame()
	require.NoError(t, err)
	require.Nil(t, rpcErr)
	require.Equal(t, models.FrameRunStatus, f.Kind)
}

func TestFrameWriterEncodesOneLinePerFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	require.NoError(t, w.WriteFrame(models.Frame{SchemaVersion: 1, Kind: models.FrameRunStatus}))
	require.NoError(t, w.WriteFrame(models.Frame{SchemaVersion: 1, Kind: models.FrameRunAccepted}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var f models.Frame
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &f))
	require.Equal(t, models.FrameRunStatus, f.Kind)
}
