package testing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cybershell/backy/pkg/sshutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_Matching(t *testing.T) {
	mc := NewMockClient("db1")
	mc.SetCommandResponse("pg_dump.*", CommandResponse{Stdout: []byte("dumped"), ExitCode: 0})
	mc.SetCommandResponse("pg_dump --fail", CommandResponse{Stderr: []byte("nope"), ExitCode: 2})
	mc.SetHandler(func(req RecordedRequest) CommandResponse {
		return CommandResponse{Stdout: []byte("fallback:" + req.Stdin)}
	})

	run := func(req sshutil.Request) (string, string, int) {
		var out, errOut bytes.Buffer
		req.Stdout, req.Stderr = &out, &errOut
		res, err := mc.Run(context.Background(), req)
		require.NoError(t, err)
		return out.String(), errOut.String(), res.ExitCode
	}

	out, _, code := run(sshutil.Request{Command: "pg_dump db"})
	assert.Equal(t, "dumped", out)
	assert.Equal(t, 0, code)

	_, errOut, code := run(sshutil.Request{Command: "pg_dump --fail"})
	assert.Equal(t, "nope", errOut)
	assert.Equal(t, 2, code)

	out, _, _ = run(sshutil.Request{Shell: true, Stdin: strings.NewReader("echo hi")})
	assert.Equal(t, "fallback:echo hi", out)

	reqs := mc.Requests()
	require.Len(t, reqs, 3)
	assert.True(t, reqs[2].Shell)
}

func TestMockClient_ClosedAndCancelled(t *testing.T) {
	mc := NewMockClient("db1")
	require.NoError(t, mc.Close())
	assert.True(t, mc.Closed())
	_, err := mc.Run(context.Background(), sshutil.Request{Command: "ls"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMockClient("x").Run(ctx, sshutil.Request{Command: "ls"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockConnector(t *testing.T) {
	c := NewMockConnector()
	boom := errors.New("boom")
	c.FailConnect("down", boom)

	_, err := c.Connect(context.Background(), sshutil.ConnectionParams{Alias: "down"})
	assert.ErrorIs(t, err, boom)

	client, err := c.Connect(context.Background(), sshutil.ConnectionParams{Alias: "up", Port: 22})
	require.NoError(t, err)
	assert.Same(t, c.Client("up"), client)
	require.NoError(t, client.Close())

	// Reconnecting reopens the same mock.
	_, err = c.Connect(context.Background(), sshutil.ConnectionParams{Alias: "up"})
	require.NoError(t, err)
	assert.False(t, c.Client("up").Closed())
	assert.Len(t, c.Connections(), 3)
}
