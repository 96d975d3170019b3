// Command cuckoo-node runs one storage node: a metadata shard backed by
// Postgres, a Data RPC server over the local cache, and the background
// maintenance (log cleaner, cache evictor) every node carries.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuckoofs/cuckoo/client"
	"github.com/cuckoofs/cuckoo/coldstore"
	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/discovery"
	"github.com/cuckoofs/cuckoo/hk"
	"github.com/cuckoofs/cuckoo/metadb"
	"github.com/cuckoofs/cuckoo/peer"
	"github.com/cuckoofs/cuckoo/store"
	"github.com/cuckoofs/cuckoo/xlog"
)

func main() {
	cfgPath := flag.String("config", "", "path to a CUCKOO_* config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics on")
	flag.Parse()

	cfg, err := conf.Load(*cfgPath)
	if err != nil {
		xlog.Fatalf("cuckoo-node: loading config: %v", err)
	}
	xlog.SetV(0)

	servers, err := discovery.ResolveCluster(context.Background(), cfg)
	if err != nil {
		xlog.Fatalf("cuckoo-node: resolving cluster view: %v", err)
	}

	dsn := os.Getenv("CUCKOO_DB_DSN")
	if dsn == "" {
		dsn = "postgres:///cuckoo?user=" + cfg.DBUser
	}
	backend, err := metadb.Open(context.Background(), dsn)
	if err != nil {
		xlog.Fatalf("cuckoo-node: opening metadata backend: %v", err)
	}
	defer backend.Close()

	metaSrv := metadb.NewServer(backend)
	metaEndpoint, _ := cfg.DataEndpoint()
	if metaEndpoint != "" {
		go func() {
			if err := metaSrv.ListenAndServe(metaEndpoint); err != nil {
				xlog.Errorf("cuckoo-node: metadata RPC server: %v", err)
			}
		}()
	}

	metaConn := client.NewConnection(cfg, servers, client.NewMetaTransport())
	defer metaConn.Shutdown()

	cold, err := openColdBackend(context.Background(), cfg)
	if err != nil {
		xlog.Fatalf("cuckoo-node: opening cold backend: %v", err)
	}

	peerClient := peer.NewClient()
	st, err := store.NewCuckooStore(cfg, metaConn, cold, peerClient, cfg.NodeID, servers, len(servers))
	if err != nil {
		xlog.Fatalf("cuckoo-node: building store engine: %v", err)
	}
	defer st.Close()

	dataSrv := peer.NewServer(cfg.NodeID, store.NewLocalBackend(st), int(cfg.BlockSize))
	dataEndpoint, hasDataEndpoint := cfg.DataEndpoint()
	if hasDataEndpoint {
		go func() {
			if err := dataSrv.ListenAndServe(dataEndpoint); err != nil {
				xlog.Errorf("cuckoo-node: data RPC server: %v", err)
			}
		}()
	}

	housekeeper := hk.New()
	hk.NewLogCleaner(cfg.LogDir, cfg.LogRetentionHrs, cfg.LogRetentionNum).Register(housekeeper, "logcleaner")

	stopEvictor := make(chan struct{})
	st.StartEvictor(stopEvictor)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			xlog.Errorf("cuckoo-node: metrics server: %v", err)
		}
	}()

	xlog.Infof("cuckoo-node: node %d ready (data=%s)", cfg.NodeID, dataEndpoint)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	xlog.Infof("cuckoo-node: shutting down")
	close(stopEvictor)
	housekeeper.Stop()
	_ = dataSrv.Shutdown()
	_ = metaSrv.Shutdown()
	xlog.Flush()
}

// openColdBackend builds the cold object store behind conf.ColdBackend,
// using each SDK's own ambient credential discovery; for Azure that is
// azidentity's default credential chain, handed to NewAzblobBackend.
func openColdBackend(ctx context.Context, cfg *conf.Config) (coldstore.Backend, error) {
	bucket := os.Getenv("CUCKOO_COLD_BUCKET")
	if bucket == "" {
		bucket = "cuckoo-cold"
	}
	switch cfg.ColdBackend {
	case conf.BackendAzblob:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, err
		}
		serviceURL := os.Getenv("CUCKOO_AZBLOB_SERVICE_URL")
		return coldstore.NewAzblobBackend(serviceURL, bucket, cred)
	case conf.BackendGCS:
		return coldstore.NewGCSBackend(ctx, bucket)
	default:
		return coldstore.NewS3Backend(ctx, bucket)
	}
}
