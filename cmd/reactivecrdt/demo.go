package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/crdt"
	"reactivecrdt/luvjson/crdtpubsub"
	"reactivecrdt/luvjson/crdtsync"
	"reactivecrdt/luvjson/reactive"
	"reactivecrdt/luvjson/view"
)

func newDemoCommand() *cobra.Command {
	var (
		items   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run two in-process replicas and print reactive updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runDemo(ctx, cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().IntVar(&items, "items", 3, "number of todos alice creates")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "time to wait for the replicas to converge")
	return cmd
}

// peer is one replica with the view of its document.
type peer struct {
	name    string
	replica *crdtsync.Replica
	store   *view.ObjectView
	todos   *view.ArrayView
}

func newPeer(name string, pubsub crdtpubsub.PubSub, patches crdtsync.PatchStore, registry prometheus.Registerer) (*peer, error) {
	doc := crdt.NewDocument(common.NewSessionID())
	replica, err := crdtsync.NewReplica(doc, pubsub, crdtsync.ReplicaOptions{
		Topic:      "demo",
		Store:      patches,
		Registerer: registry,
	})
	if err != nil {
		return nil, err
	}

	p := &peer{name: name, replica: replica}
	err = replica.Do(func(doc *crdt.Document) error {
		store, err := view.New(doc, map[string]any{"todos": []any{}})
		if err != nil {
			return err
		}
		p.store = store
		p.todos, _ = store.Array("todos")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// do runs fn under the replica lock.
func (p *peer) do(fn func() error) error {
	return p.replica.Do(func(*crdt.Document) error {
		return fn()
	})
}

// wait polls cond under the replica lock until it holds or ctx ends.
func (p *peer) wait(ctx context.Context, cond func() bool) error {
	for {
		var ok bool
		_ = p.do(func() error {
			ok = cond()
			return nil
		})
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%s did not converge", p.name)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (p *peer) json() string {
	var data []byte
	_ = p.do(func() error {
		var err error
		data, err = json.Marshal(p.store)
		return err
	})
	return string(data)
}

func runDemo(ctx context.Context, w io.Writer, items int) error {
	out := &syncWriter{w: w}

	pubsub, err := crdtpubsub.NewMemoryPubSub(crdtpubsub.NewOptions())
	if err != nil {
		return err
	}
	defer pubsub.Close()

	patches := crdtsync.NewMemoryPatchStore()
	registry := prometheus.NewRegistry()

	alice, err := newPeer("alice", pubsub, patches, registry)
	if err != nil {
		return err
	}
	bob, err := newPeer("bob", pubsub, patches, registry)
	if err != nil {
		return err
	}

	// bob's observer only runs under bob's replica lock
	var autorun *reactive.Observer
	_ = bob.do(func() error {
		autorun = reactive.Autorun(func() {
			data, _ := json.Marshal(bob.todos)
			fmt.Fprintf(out, "[bob] todos: %s\n", data)
		}, reactive.WithName("bob"))
		return nil
	})
	defer autorun.Dispose()

	for _, p := range []*peer{alice, bob} {
		if err := p.replica.Start(ctx); err != nil {
			return err
		}
		defer p.replica.Close()
	}

	for i := range items {
		err := alice.do(func() error {
			_, err := alice.todos.Push(map[string]any{"title": fmt.Sprintf("task %d", i+1), "done": false})
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "[alice] pushed task %d\n", i+1)
	}
	if err := bob.wait(ctx, func() bool { return bob.todos.Len() == items }); err != nil {
		return err
	}

	if items > 0 {
		err := bob.do(func() error {
			first, ok := bob.todos.At(0).(*view.ObjectView)
			if !ok {
				return errors.New("first todo is not an object")
			}
			return first.Set("done", true)
		})
		if err != nil {
			return err
		}
		err = alice.wait(ctx, func() bool {
			first, ok := alice.todos.At(0).(*view.ObjectView)
			return ok && first.Field("done") == true
		})
		if err != nil {
			return err
		}
	}

	aliceJSON, bobJSON := alice.json(), bob.json()
	fmt.Fprintf(out, "[alice] final: %s\n", aliceJSON)
	fmt.Fprintf(out, "[bob] final: %s\n", bobJSON)
	if aliceJSON != bobJSON {
		return errors.New("replicas diverged")
	}
	fmt.Fprintf(out, "converged after %d bob recomputations\n", autorun.Triggered())
	return nil
}
