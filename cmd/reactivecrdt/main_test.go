package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reactivecrdt/internal/config"
	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
	"reactivecrdt/luvjson/crdtpubsub"
	"reactivecrdt/luvjson/crdtstorage"
	"reactivecrdt/luvjson/view"
)

// lockedBuffer is a bytes.Buffer safe for concurrent writers and readers.
type lockedBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

func TestExecute(t *testing.T) {
	doc := crdt.NewDocument(common.NewSessionID())
	store, err := view.New(doc, map[string]any{"todos": []any{}, "meta": map[string]any{}})
	require.NoError(t, err)

	out, err := execute(store, `push todos {"title": "write tests"}`)
	require.NoError(t, err)
	assert.Equal(t, "length 1", out)

	_, err = execute(store, `set  meta   owner "bob"`)
	require.NoError(t, err)
	_, err = execute(store, `set todos 1 "second"`)
	require.NoError(t, err)

	out, err = execute(store, "show")
	require.NoError(t, err)
	assert.JSONEq(t, `{"meta":{"owner":"bob"},"todos":[{"title":"write tests"},"second"]}`, out)

	_, err = execute(store, "del todos 0")
	require.NoError(t, err)
	_, err = execute(store, "del todos 5")
	assert.Error(t, err)
	_, err = execute(store, "del meta owner")
	require.NoError(t, err)

	out, err = execute(store, "show")
	require.NoError(t, err)
	assert.JSONEq(t, `{"meta":{},"todos":["second"]}`, out)

	out, err = execute(store, "   ")
	require.NoError(t, err)
	assert.Empty(t, out)

	for _, line := range []string{
		"push todos",
		"push meta 1",
		"push todos {bad",
		"set todos x 1",
		"set missing 0 1",
		"del todos",
		"launch",
	} {
		_, err := execute(store, line)
		assert.Error(t, err, line)
	}
}

func TestRunDemo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out lockedBuffer
	require.NoError(t, runDemo(ctx, &out, 2))

	output := out.String()
	assert.Contains(t, output, "[alice] pushed task 2")
	assert.Contains(t, output, `[bob] todos: [{"done":false,"title":"task 1"},{"done":false,"title":"task 2"}]`)
	assert.Contains(t, output, `[bob] final: {"todos":[{"done":true,"title":"task 1"}`)
	assert.Contains(t, output, "converged after")
}

func TestRunServe(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Document = "notes"
	cfg.Storage.Type = crdtstorage.PersistenceFile
	cfg.Storage.Path = dir
	cfg.Storage.SaveInterval = 0
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out lockedBuffer
	input := strings.NewReader("push todos \"milk\"\nlaunch\n")
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cfg, input, &out)
	}()

	assert.Eventually(t, func() bool {
		output := out.String()
		return strings.Contains(output, `{"todos":["milk"]}`) &&
			strings.Contains(output, `error: unknown command "launch"`)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	adapter, err := crdtstorage.NewFileAdapter(dir)
	require.NoError(t, err)
	storage := crdtstorage.NewStorage(adapter)
	defer storage.Close()

	doc, record, err := storage.LoadDocument(context.Background(), "notes", common.NewSessionID())
	require.NoError(t, err)
	assert.Equal(t, "replica", record.Metadata["replica"])
	assert.Equal(t, map[string]any{"todos": []any{"milk"}}, doc.View())
}

func TestNewTransport_Gossip(t *testing.T) {
	cfg := config.Default()
	cfg.PubSub.Kind = config.TransportGossip
	cfg.PubSub.Gossip.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	require.NoError(t, cfg.Validate())

	pubsub, patches, cleanup, err := newTransport(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &crdtpubsub.GossipPubSub{}, pubsub)
	assert.NotNil(t, patches)

	// a bootstrap peer without a peer id fails the transport
	cfg.PubSub.Gossip.Peers = []string{"/ip4/127.0.0.1/tcp/1"}
	_, _, _, err = newTransport(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	var out lockedBuffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"demo", "--items", "1", "--log-level", "error"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "converged after")
}
