package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/obexgo/internal/auth"
	"github.com/danmuck/obexgo/internal/config"
	"github.com/danmuck/obexgo/internal/inbox"
	"github.com/danmuck/obexgo/internal/observability"
	"github.com/danmuck/obexgo/internal/protocol"
	"github.com/danmuck/obexgo/internal/protocol/header"
	"github.com/danmuck/obexgo/internal/protocol/session"
	"github.com/danmuck/obexgo/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// remote is a connected client session positioned in a folder.
type remote struct {
	*session.Client
}

// newDialer builds the opener for cfg; presented must match cfg.Token when
// one is configured.
func newDialer(cfg config.ClientConfig, presented string) *transport.Dialer {
	d := &transport.Dialer{
		Kind:     cfg.Kind(),
		Options:  transport.Options{MaxPacketSize: cfg.MaxPacketSize},
		Timeout:  cfg.ConnectTimeout.Duration,
		Retry:    cfg.RetryPolicy(),
		Observer: observability.NewTrafficObserver(log.Logger, "obexctl"),
	}
	if strings.TrimSpace(cfg.Token) != "" {
		d.Permission = auth.StaticToken{Token: cfg.Token}
		d.Token = presented
	}
	return d
}

func dialRemote(ctx context.Context, cfg config.ClientConfig, d *transport.Dialer) (*remote, error) {
	t, err := d.Dial(ctx, cfg.Addr)
	if err != nil {
		return nil, err
	}
	c := session.NewClient(t, session.Config{
		MaxPacketSize:   cfg.MaxPacketSize,
		ResponseTimeout: cfg.ResponseTimeout.Duration,
		Reporter:        observability.NewSessionReporter(log.Logger, "obexctl"),
	})
	var hs header.Set
	if cfg.Target != "" {
		target, err := config.ParseTarget(cfg.Target)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		hs.Add(header.Bytes(header.Target, target))
	}
	if _, err := c.Connect(ctx, hs); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &remote{Client: c}, nil
}

func (r *remote) close(ctx context.Context) {
	if _, err := r.Disconnect(ctx, nil); err != nil {
		log.Debug().Err(err).Msg("obexctl_disconnect_failed")
	}
	_ = r.Close()
}

// enter walks dir one SETPATH per segment; create makes missing folders.
func (r *remote) enter(ctx context.Context, dir string, create bool) error {
	for _, seg := range strings.Split(dir, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			resp, err := r.SetPath(ctx, nil, true, false)
			if err := refusal(protocol.OpSetPath, resp, err); err != nil {
				return fmt.Errorf("setpath ..: %w", err)
			}
			continue
		}
		h, err := header.Text(header.Name, seg)
		if err != nil {
			return err
		}
		resp, err := r.SetPath(ctx, header.Set{h}, false, create)
		if err := refusal(protocol.OpSetPath, resp, err); err != nil {
			return fmt.Errorf("setpath %s: %w", seg, err)
		}
	}
	return nil
}

func nameHeaders(name string) (header.Set, error) {
	h, err := header.Text(header.Name, name)
	if err != nil {
		return nil, err
	}
	return header.Set{h}, nil
}

func (r *remote) push(ctx context.Context, name string, size int64, body io.Reader) (int64, error) {
	hs, err := nameHeaders(name)
	if err != nil {
		return 0, err
	}
	if size >= 0 && size <= int64(^uint32(0)) {
		hs.Add(header.Uint32(header.Length, uint32(size)))
	}
	op, err := r.Put(ctx, hs)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(op, body)
	if err != nil {
		_ = op.Abort()
		return n, err
	}
	return n, op.Close()
}

func (r *remote) pull(ctx context.Context, hs header.Set, w io.Writer) (int64, error) {
	op, err := r.Get(ctx, hs)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, op)
	if err != nil {
		_ = op.Abort()
		return n, err
	}
	return n, op.Close()
}

func (r *remote) list(ctx context.Context) (inbox.Listing, error) {
	var buf strings.Builder
	if _, err := r.pull(ctx, header.Set{header.TypeHeader(inbox.ListingType)}, &buf); err != nil {
		return inbox.Listing{}, err
	}
	return inbox.ParseListing([]byte(buf.String()))
}

func (r *remote) remove(ctx context.Context, name string) error {
	hs, err := nameHeaders(name)
	if err != nil {
		return err
	}
	resp, err := r.Delete(ctx, hs)
	return refusal(protocol.OpPutFinal, resp, err)
}

// refusal turns a non-success response into a *protocol.RefusedError.
func refusal(op protocol.Opcode, resp *session.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.Code.Success() {
		return protocol.Refused(op, resp.Code)
	}
	return nil
}

var clientFlags struct {
	folder string
	create bool
	output string
}

// withRemote loads client config, connects, enters the folder and runs fn.
func withRemote(cmd *cobra.Command, create bool, fn func(ctx context.Context, r *remote) error) error {
	cfg, err := loadClientConfig(rootFlags.config, rootFlags.overlay)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	r, err := dialRemote(ctx, cfg, newDialer(cfg, presentedToken()))
	if err != nil {
		return err
	}
	defer r.close(ctx)
	if err := r.enter(ctx, clientFlags.folder, create); err != nil {
		return err
	}
	return fn(ctx, r)
}

var putCmd = &cobra.Command{
	Use:   "put <file> [remote-name]",
	Short: "Push a local file (- for stdin)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src := args[0]
		name := filepath.Base(src)
		if len(args) == 2 {
			name = args[1]
		}
		var body io.Reader = cmd.InOrStdin()
		size := int64(-1)
		if src != "-" {
			f, err := os.Open(src)
			if err != nil {
				return err
			}
			defer f.Close()
			if st, err := f.Stat(); err == nil {
				size = st.Size()
			}
			body = f
		} else if len(args) < 2 {
			return errors.New("remote-name is required when reading stdin")
		}
		return withRemote(cmd, clientFlags.create, func(ctx context.Context, r *remote) error {
			n, err := r.push(ctx, name, size, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s (%d bytes)\n", name, n)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <remote-name>",
	Short: "Fetch a remote object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hs, err := nameHeaders(args[0])
		if err != nil {
			return err
		}
		var w io.Writer = cmd.OutOrStdout()
		out := clientFlags.output
		if out == "" {
			out = filepath.Base(args[0])
		}
		if out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return withRemote(cmd, false, func(ctx context.Context, r *remote) error {
			n, err := r.pull(ctx, hs, w)
			if err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "fetched %s (%d bytes)\n", out, n)
			}
			return nil
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the remote folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, false, func(ctx context.Context, r *remote) error {
			l, err := r.list(ctx)
			if err != nil {
				return err
			}
			printListing(cmd.OutOrStdout(), l)
			return nil
		})
	},
}

func printListing(w io.Writer, l inbox.Listing) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if l.Parent != nil {
		fmt.Fprintln(tw, "dir\t-\t..")
	}
	for _, e := range l.Folders {
		fmt.Fprintf(tw, "dir\t-\t%s/\n", e.Name)
	}
	for _, e := range l.Files {
		fmt.Fprintf(tw, "file\t%d\t%s\n", e.Size, e.Name)
	}
	_ = tw.Flush()
}

var rmCmd = &cobra.Command{
	Use:   "rm <remote-name>...",
	Short: "Delete remote objects",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, false, func(ctx context.Context, r *remote) error {
			for _, name := range args {
				if err := r.remove(ctx, name); err != nil {
					return fmt.Errorf("rm %s: %w", name, err)
				}
			}
			return nil
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <folder>",
	Short: "Create a remote folder path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRemote(cmd, true, func(ctx context.Context, r *remote) error {
			return r.enter(ctx, args[0], true)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{putCmd, getCmd, lsCmd, rmCmd, mkdirCmd} {
		c.Flags().StringVarP(&clientFlags.folder, "folder", "f", "", "remote folder, slash separated")
		rootCmd.AddCommand(c)
	}
	putCmd.Flags().BoolVar(&clientFlags.create, "mkdir", false, "create missing folders")
	getCmd.Flags().StringVarP(&clientFlags.output, "output", "o", "", "output file, - for stdout")
}
