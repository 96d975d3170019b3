// Command cuckoo-cli is a small admin client: stat, ls, and cat against a
// running cluster, resolved the same way cuckoo-node resolves its peers.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/cuckoofs/cuckoo/client"
	"github.com/cuckoofs/cuckoo/coldstore"
	"github.com/cuckoofs/cuckoo/conf"
	"github.com/cuckoofs/cuckoo/discovery"
	"github.com/cuckoofs/cuckoo/meta"
	"github.com/cuckoofs/cuckoo/peer"
	"github.com/cuckoofs/cuckoo/store"
)

func main() {
	app := &cli.App{
		Name:  "cuckoo-cli",
		Usage: "inspect and read from a cuckoo cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a CUCKOO_* config file"},
		},
		Commands: []*cli.Command{
			statCommand,
			lsCommand,
			catCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cuckoo-cli:", err)
		os.Exit(1)
	}
}

// loadConnection builds a metadata-only Connection: enough for stat/ls,
// which never touch file content and so never need a cold backend or peer
// client. cat reuses the same resolved server map to also build a full
// store engine.
func loadConnection(c *cli.Context) (*conf.Config, *client.Connection, map[int32]meta.ServerIdentifier, error) {
	cfg, err := conf.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "loading config")
	}
	servers, err := discovery.ResolveCluster(context.Background(), cfg)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "resolving cluster view")
	}
	conn := client.NewConnection(cfg, servers, client.NewMetaTransport())
	return cfg, conn, servers, nil
}

var statCommand = &cli.Command{
	Name:      "stat",
	Usage:     "print a path's metadata",
	ArgsUsage: "PATH",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return errors.New("stat: missing PATH")
		}
		_, conn, servers, err := loadConnection(c)
		if err != nil {
			return err
		}
		defer conn.Shutdown()

		shard := store.ShardFor(path, len(servers))
		st, nodeID, code := conn.Stat(shard, path)
		if !code.Ok() {
			return errors.Errorf("stat %s: %s", path, code)
		}
		printStat(path, st, nodeID, shard)
		return nil
	},
}

var lsCommand = &cli.Command{
	Name:      "ls",
	Usage:     "list a directory's entries",
	ArgsUsage: "PATH",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			path = "/"
		}
		_, conn, servers, err := loadConnection(c)
		if err != nil {
			return err
		}
		defer conn.Shutdown()

		shard := store.ShardFor(path, len(servers))
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		lastShardIndex, lastFileName := int32(0), ""
		for {
			entries, next, code := conn.ReadDir(shard, path, lastShardIndex, lastFileName)
			if !code.Ok() {
				return errors.Errorf("ls %s: %s", path, code)
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\n", modeString(e.Mode), e.Name)
			}
			if next == "" {
				break
			}
			lastFileName = next
		}
		return nil
	},
}

var catCommand = &cli.Command{
	Name:      "cat",
	Usage:     "print a regular file's content to stdout",
	ArgsUsage: "PATH",
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return errors.New("cat: missing PATH")
		}
		cfg, conn, servers, err := loadConnection(c)
		if err != nil {
			return err
		}
		defer conn.Shutdown()

		cold, err := openColdBackend(context.Background(), cfg)
		if err != nil {
			return errors.Wrap(err, "opening cold backend")
		}

		st, err := store.NewCuckooStore(cfg, conn, cold, peer.NewClient(), cfg.NodeID, servers, len(servers))
		if err != nil {
			return errors.Wrap(err, "building store engine")
		}
		defer st.Close()

		oi, code := st.Open(path, os.O_RDONLY, 0)
		if !code.Ok() {
			return errors.Errorf("cat %s: %s", path, code)
		}

		buf := make([]byte, cfg.BigFileReadSize)
		var offset int64
		for {
			n, code := st.Read(context.Background(), oi, buf, offset)
			if !code.Ok() {
				return errors.Errorf("cat %s: %s", path, code)
			}
			if n == 0 {
				break
			}
			if _, err := os.Stdout.Write(buf[:n]); err != nil {
				return err
			}
			offset += int64(n)
		}
		return nil
	},
}

// openColdBackend mirrors cuckoo-node's own backend selection: the CLI
// reads from the same cold store a node would fall through to on a cache
// miss, so the two must agree on which one that is.
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

func printStat(path string, st meta.Stat, nodeID, shard int32) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "path:\t%s\n", path)
	fmt.Fprintf(w, "inode:\t%d\n", st.Ino)
	fmt.Fprintf(w, "mode:\t%s\n", modeString(st.Mode))
	fmt.Fprintf(w, "size:\t%d\n", st.Size)
	fmt.Fprintf(w, "uid/gid:\t%d/%d\n", st.Uid, st.Gid)
	fmt.Fprintf(w, "nlink:\t%d\n", st.Nlink)
	fmt.Fprintf(w, "mtime:\t%s\n", time.Unix(st.Mtim, 0).Format(time.RFC3339))
	fmt.Fprintf(w, "shard:\t%d\n", shard)
	fmt.Fprintf(w, "owning node:\t%d\n", nodeID)
}

func modeString(mode uint32) string {
	kind := byte('-')
	if mode&unix.S_IFMT == unix.S_IFDIR {
		kind = 'd'
	}
	perm := os.FileMode(mode).Perm()
	return string(kind) + perm.String()[1:]
}
