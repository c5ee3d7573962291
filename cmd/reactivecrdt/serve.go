package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reactivecrdt/internal/config"
	"reactivecrdt/luvjson/common"
	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdt"
	"reactivecrdt/luvjson/crdtpubsub"
	"reactivecrdt/luvjson/crdtstorage"
	"reactivecrdt/luvjson/crdtsync"
	"reactivecrdt/luvjson/reactive"
	"reactivecrdt/luvjson/view"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Join a topic and edit the shared document from the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("log-level") {
				lvlog.SetLogger(cfg.Log.Caller || root.caller, cfg.Log.Level)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintln(cmd.OutOrStdout(), consoleHelp)
			return runServe(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	return cmd
}

// runServe loads the document, joins the topic and executes console lines
// from in until ctx ends. The document JSON is printed after every change.
func runServe(ctx context.Context, cfg *config.Config, in io.Reader, w io.Writer) error {
	out := &syncWriter{w: w}
	log := lvlog.Named("serve").With(zap.String("replica", cfg.Replica), zap.String("document", cfg.Document))

	adapter, err := crdtstorage.NewPersistenceAdapter(ctx, cfg.StorageOptions())
	if err != nil {
		return err
	}
	storage := crdtstorage.NewStorage(adapter)
	defer storage.Close()

	doc, err := storage.LoadOrCreate(ctx, cfg.Document, common.NewSessionID())
	if err != nil {
		return err
	}

	pubsub, patches, cleanup, err := newTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	replica, err := crdtsync.NewReplica(doc, pubsub, crdtsync.ReplicaOptions{
		Topic:      cfg.Topic,
		Format:     crdtpubsub.EncodingFormat(cfg.PubSub.Format),
		Store:      patches,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		return err
	}

	var (
		store   *view.ObjectView
		autorun *reactive.Observer
	)
	err = replica.Do(func(doc *crdt.Document) error {
		var err error
		if store, err = view.New(doc, cfg.RootTemplate()); err != nil {
			return err
		}
		autorun = reactive.Autorun(func() {
			data, err := json.Marshal(store)
			if err != nil {
				log.Warn("failed to render document", zap.Error(err))
				return
			}
			fmt.Fprintf(out, "%s\n", data)
		}, reactive.WithName(cfg.Replica))
		return nil
	})
	if err != nil {
		return err
	}
	defer autorun.Dispose()

	if err := replica.Start(ctx); err != nil {
		return err
	}
	if patches != nil {
		n, err := replica.Catchup(ctx)
		if err != nil {
			log.Warn("catch-up failed", zap.Error(err))
		} else {
			log.Info("caught up", zap.Int("patches", n))
		}
	}

	save := func() {
		_ = replica.Do(func(doc *crdt.Document) error {
			record, err := storage.SaveDocument(context.Background(), cfg.Document, doc, map[string]string{"replica": cfg.Replica})
			if err != nil {
				log.Error("failed to save document", zap.Error(err))
				return err
			}
			log.Debug("document saved", zap.Int64("version", record.Version))
			return nil
		})
	}

	var tick <-chan time.Time
	if cfg.Storage.SaveInterval > 0 {
		ticker := time.NewTicker(cfg.Storage.SaveInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			save()
			return replica.Close()

		case <-tick:
			save()

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			var result string
			err := replica.Do(func(*crdt.Document) error {
				var err error
				result, err = execute(store, line)
				return err
			})
			switch {
			case err != nil:
				fmt.Fprintf(out, "error: %v\n", err)
			case result != "":
				fmt.Fprintln(out, result)
			}
		}
	}
}

// readLines sends the lines of in until EOF or ctx ends.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// newTransport builds the pub/sub and the optional patch store. cleanup
// closes everything it opened, in reverse order.
func newTransport(ctx context.Context, cfg *config.Config) (crdtpubsub.PubSub, crdtsync.PatchStore, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	options := crdtpubsub.NewOptions()
	options.ClientID = cfg.Replica
	options.DefaultFormat = crdtpubsub.EncodingFormat(cfg.PubSub.Format)

	var pubsub crdtpubsub.PubSub
	switch cfg.PubSub.Kind {
	case config.TransportRedis:
		client, err := connectRedis(ctx, cfg.PubSub.Redis)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, client.Close)
		ps, err := crdtpubsub.NewRedisPubSub(client, options)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		pubsub = ps
	case config.TransportGossip:
		h, err := crdtpubsub.NewGossipHost(cfg.PubSub.Gossip.ListenAddrs...)
		if err != nil {
			return nil, nil, nil, err
		}
		ps, err := crdtpubsub.NewGossipPubSub(h, options)
		if err != nil {
			_ = h.Close()
			return nil, nil, nil, err
		}
		if err := ps.Connect(ctx, cfg.PubSub.Gossip.Peers...); err != nil {
			_ = ps.Close()
			return nil, nil, nil, err
		}
		pubsub = ps
	default:
		ps, err := crdtpubsub.NewMemoryPubSub(options)
		if err != nil {
			return nil, nil, nil, err
		}
		pubsub = ps
	}
	closers = append(closers, pubsub.Close)

	var patches crdtsync.PatchStore
	switch cfg.Patches.Kind {
	case config.TransportMemory:
		patches = crdtsync.NewMemoryPatchStore()
	case config.TransportRedis:
		client, err := connectRedis(ctx, cfg.Patches.Redis)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		closers = append(closers, client.Close)
		store, err := crdtsync.NewRedisStreamsPatchStore(client, cfg.Patches.StreamKey, options.DefaultFormat, cfg.Patches.MaxLen)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		patches = store
	}
	if patches != nil {
		closers = append(closers, patches.Close)
	}
	return pubsub, patches, cleanup, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}
	return client, nil
}
