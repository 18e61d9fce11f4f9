package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/taskcue/cuebridge/internal/testutil"
	"github.com/taskcue/cuebridge/pkg/engine"
	"github.com/taskcue/cuebridge/pkg/extract"
	"github.com/taskcue/cuebridge/pkg/loader"
)

var fixture = map[string]string{
	"schema.cue": `package cfg

#Task: {
	command: string
	...
}
`,
	"services/api/api.cue": `package cfg

name: "api"
env: {
	PORT: "8080"
	HOST: "0.0.0.0"
}
tasks: {
	build: #Task & {command: "go"}
	test: #Task & {
		command: "go"
		dependsOn: [build]
	}
}
`,
	"services/web/web.cue": `package cfg

name: "web"
tasks: lint: #Task & {command: "eslint"}
`,
	"shared/shared.cue": `package cfg

region: "eu"
`,
}

func request(root string, opts Options) []byte {
	raw, _ := json.Marshal(Request{ModuleRoot: root, Options: opts})
	return raw
}

func decode(t *testing.T, raw []byte) map[string]json.RawMessage {
	t.Helper()
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &env), "envelope is not JSON: %s", raw)
	require.JSONEq(t, `"bridge/1"`, string(env["version"]))
	return env
}

func decodeError(t *testing.T, raw []byte) ErrorBody {
	t.Helper()
	env := decode(t, raw)
	_, hasOK := env["ok"]
	require.False(t, hasOK, "error envelope must omit ok: %s", raw)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(env["error"], &body))
	return body
}

func setup(t *testing.T) string {
	t.Helper()
	t.Setenv(loader.ModuleRootEnv, "")
	return testutil.WriteModule(t, fixture)
}

func TestHandleJSONEndToEnd(t *testing.T) {
	root := setup(t)

	raw := New().HandleJSON(context.Background(),
		request(root, Options{Recursive: true, WithMeta: true, WithReferences: true}))
	env := decode(t, raw)
	_, hasErr := env["error"]
	require.False(t, hasErr, "success envelope must omit error: %s", raw)

	var res ModuleResult
	require.NoError(t, json.Unmarshal(env["ok"], &res))

	require.ElementsMatch(t, []string{".", "services/api", "services/web", "shared"}, keys(res.Instances))
	require.Equal(t, []string{"services/api", "services/web"}, res.Projects)

	// Field order follows the source.
	require.True(t, strings.HasPrefix(string(res.Instances["services/api"]),
		`{"name":"api","env":{"PORT":"8080","HOST":"0.0.0.0"},"tasks":{"build":{"command":"go","_source":{"file":"services/api/api.cue","line":9,"column":2}}`),
		"unexpected projection: %s", res.Instances["services/api"])

	require.Equal(t, MetaEntry{Directory: "services/api", Filename: "api.cue", Line: 5}, res.Meta["services/api/env.PORT"])
	require.Equal(t, "tasks.build", res.Meta["services/api/tasks.test.dependsOn[0]"].Reference)
	require.Equal(t, MetaEntry{Directory: "shared", Filename: "shared.cue", Line: 3}, res.Meta["shared/region"])
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestHandleJSONDeterministic(t *testing.T) {
	root := setup(t)
	b := New()
	in := request(root, Options{Recursive: true, WithMeta: true, WithReferences: true})

	first := b.HandleJSON(context.Background(), in)
	for i := 1; i < 5; i++ {
		got := b.HandleJSON(context.Background(), in)
		if diff := cmp.Diff(string(first), string(got)); diff != "" {
			t.Fatalf("call %d differs (-first +got):\n%s", i, diff)
		}
	}
}

func TestHandleJSONEmptyProjects(t *testing.T) {
	setup(t)
	root := testutil.WriteModule(t, map[string]string{"x.cue": "package x\n\nregion: \"eu\"\n"})

	raw := New().HandleJSON(context.Background(), request(root, Options{}))
	env := decode(t, raw)
	require.Contains(t, string(env["ok"]), `"projects":[]`)
	require.NotContains(t, string(env["ok"]), `"meta"`)
}

func TestHandleJSONInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{name: "malformed", input: `{"moduleRoot":`, message: "malformed request"},
		{name: "empty", input: ``, message: "malformed request"},
		{name: "wrong type", input: `{"moduleRoot": 3}`, message: "malformed request"},
		{name: "missing root", input: `{"options": {"recursive": true}}`, message: "moduleRoot is required"},
		{name: "negative workers", input: `{"moduleRoot": "/x", "options": {"workers": -1}}`, message: "options.workers failed gte validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := decodeError(t, New().HandleJSON(context.Background(), []byte(tt.input)))
			require.Equal(t, CodeInvalidInput, body.Code)
			require.Contains(t, body.Message, tt.message)
			require.NotEmpty(t, body.Hint)
			require.False(t, body.Retryable())
		})
	}
}

func TestHandleJSONLoadFailure(t *testing.T) {
	t.Setenv(loader.ModuleRootEnv, "")
	body := decodeError(t, New().HandleJSON(context.Background(), request(t.TempDir(), Options{})))
	require.Equal(t, CodeLoadFailure, body.Code)
	require.Contains(t, body.Hint, "cue mod init")
	require.True(t, body.Retryable())
}

func TestHandleJSONLegacyPackageName(t *testing.T) {
	root := setup(t)
	testutil.WriteFile(t, root, "other/other.cue", "package other\n\nname: \"other\"\n")

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "legacy top-level",
			input: `{"moduleRoot": %q, "packageName": "other", "options": {"recursive": true}}`,
			want:  []string{"other"},
		},
		{
			name:  "options wins",
			input: `{"moduleRoot": %q, "packageName": "other", "options": {"recursive": true, "packageName": "cfg"}}`,
			want:  []string{"services/api", "services/web"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []byte(strings.Replace(tt.input, "%q", `"`+root+`"`, 1))
			env := decode(t, New().HandleJSON(context.Background(), in))
			var res ModuleResult
			require.NoError(t, json.Unmarshal(env["ok"], &res))
			require.Equal(t, tt.want, res.Projects)
		})
	}
}

func TestEvaluateWorkerPanic(t *testing.T) {
	root := setup(t)
	panicking := engine.ExtractorFunc(func(u extract.Unit, opts extract.Options) (*extract.Result, error) {
		if u.Path == "shared" {
			panic("worker exploded")
		}
		return extract.Extract(u, opts)
	})

	resp := NewWithEngine(engine.New(panicking)).Evaluate(context.Background(),
		Request{ModuleRoot: root, Options: Options{Recursive: true}})
	require.Nil(t, resp.OK)
	require.NotNil(t, resp.Error)
	require.Equal(t, CodePanicRecovered, resp.Error.Code)
	require.Contains(t, resp.Error.Message, "worker exploded")
}

func TestEvaluateRecoversBoundaryPanic(t *testing.T) {
	b := New()
	b.validate = nil

	resp := b.Evaluate(context.Background(), Request{ModuleRoot: "/x"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodePanicRecovered, resp.Error.Code)
	require.Equal(t, Version, resp.Version)
}

func TestEncodeSerializationFailure(t *testing.T) {
	resp := Success(&ModuleResult{
		Instances: map[string]json.RawMessage{".": json.RawMessage(`{not json`)},
		Projects:  []string{},
	})
	body := decodeError(t, Encode(resp))
	require.Equal(t, CodeSerializationFailure, body.Code)
}

func TestEvaluatePackageFunction(t *testing.T) {
	body := decodeError(t, Evaluate([]byte(`{}`)))
	require.Equal(t, CodeInvalidInput, body.Code)
}

func TestServe(t *testing.T) {
	root := setup(t)

	var in bytes.Buffer
	in.Write(request(root, Options{Recursive: true}))
	in.WriteString("\n\n")
	in.WriteString("not json\n")
	in.Write(request(root, Options{TargetDir: "shared"}))
	in.WriteString("\n")

	var out bytes.Buffer
	require.NoError(t, New().Serve(context.Background(), &in, &out))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	var first Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NotNil(t, first.OK)
	require.Len(t, first.OK.Instances, 4)

	require.Equal(t, CodeInvalidInput, decodeError(t, []byte(lines[1])).Code)

	var third Response
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
	require.NotNil(t, third.OK)
	require.Len(t, third.OK.Instances, 1)
	require.Contains(t, third.OK.Instances, "shared")
}

func TestServeStopsWhenContextDone(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New().Serve(ctx, r, io.Discard)
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
