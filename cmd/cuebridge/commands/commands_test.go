package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskcue/cuebridge/internal/testutil"
	"github.com/taskcue/cuebridge/pkg/bridge"
	"github.com/taskcue/cuebridge/pkg/loader"
)

var fixture = map[string]string{
	"app/app.cue": `package app

name: "api"
env: PORT: "8080"
tasks: build: command: "go build"
`,
	"lib/lib.cue": `package lib

version: "1.0"
`,
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv(loader.ModuleRootEnv, "")

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEvalJSON(t *testing.T) {
	root := testutil.WriteModule(t, fixture)

	out, err := execute(t, "", "eval", "--recursive", "--meta", root)
	require.NoError(t, err)

	var resp bridge.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.OK)
	assert.Equal(t, []string{"app"}, resp.OK.Projects)
	assert.Len(t, resp.OK.Instances, 2)
	assert.Equal(t, "app.cue", resp.OK.Meta["app/env.PORT"].Filename)
}

func TestEvalProjectFieldFlag(t *testing.T) {
	root := testutil.WriteModule(t, fixture)

	out, err := execute(t, "", "eval", "-r", "--project-field", "version", root)
	require.NoError(t, err)

	var resp bridge.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []string{"lib"}, resp.OK.Projects)
}

func TestEvalYAMLKeepsOrder(t *testing.T) {
	root := testutil.WriteModule(t, fixture)

	out, err := execute(t, "", "eval", "--target-dir", "app", "-o", "yaml", root)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "version: bridge/1\nok:\n"), out)
	assert.Contains(t, out, `PORT: "8080"`)
	assert.Less(t, strings.Index(out, "name: api"), strings.Index(out, "tasks:"))
}

func TestEvalPretty(t *testing.T) {
	root := testutil.WriteModule(t, fixture)

	out, err := execute(t, "", "eval", "-o", "pretty", "--target-dir", "lib", root)
	require.NoError(t, err)
	assert.Contains(t, out, "\n  \"version\": \"bridge/1\"")
}

func TestEvalErrorEnvelope(t *testing.T) {
	out, err := execute(t, "", "eval", t.TempDir())
	require.Error(t, err)
	assert.True(t, IsReported(err))

	var resp bridge.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, bridge.CodeLoadFailure, resp.Error.Code)
}

func TestEvalUnknownFormat(t *testing.T) {
	_, err := execute(t, "", "eval", "-o", "toml", t.TempDir())
	require.Error(t, err)
	assert.False(t, IsReported(err))
}

func TestServe(t *testing.T) {
	root := testutil.WriteModule(t, fixture)
	req, err := json.Marshal(bridge.Request{ModuleRoot: root, Options: bridge.Options{Recursive: true}})
	require.NoError(t, err)

	out, err := execute(t, string(req)+"\n{\n", "serve")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var first, second bridge.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NotNil(t, first.OK)
	require.NotNil(t, second.Error)
	assert.Equal(t, bridge.CodeInvalidInput, second.Error.Code)
}

func TestServeStopsWhenMetricsListenerFails(t *testing.T) {
	t.Setenv(loader.ModuleRootEnv, "")
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	stdin, stdinW := io.Pipe()
	defer stdinW.Close()

	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetIn(stdin)
	cmd.SetArgs([]string{"serve", "--metrics-addr", busy.Addr().String()})

	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(context.Background())
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address already in use")
	case <-time.After(10 * time.Second):
		t.Fatal("serve kept running after the metrics listener failed")
	}
}
