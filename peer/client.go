// Package peer implements the FMD peer fetch client (spec.md §4.9): the
// only network-facing piece of this engine, letting one storage node ask
// a peer for its copy of a file's FMD record. The request-dispatcher side
// that would answer such a query belongs to the out-of-scope collaborator
// named in spec.md §1 and is not implemented here.
package peer

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	gxnet "github.com/AlexStocks/goext/net"
	log "github.com/AlexStocks/log4go"
	gxsync "github.com/dubbogo/gost/sync"
	lz4 "github.com/pierrec/lz4/v4"
	"github.com/pingcap/errors"

	"github.com/zhukovaskychina/xfmd/fmd"
)

const lz4BodyPrefix = "LZ4:"

// Client issues getfmd queries to peer nodes with a fixed request
// deadline (spec.md §5 "Cancellation / timeouts").
type Client struct {
	timeout time.Duration
	pool    gxsync.GenericTaskPool
}

// NewClient builds a peer fetch client with the given request deadline.
// A zero timeout falls back to fmd.DefaultPeerTimeoutSeconds.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = time.Duration(fmd.DefaultPeerTimeoutSeconds) * time.Second
	}
	return &Client{
		timeout: timeout,
		pool:    gxsync.NewTaskPoolSimple(0),
	}
}

// Close releases the client's response-dispatch task pool.
func (c *Client) Close() {
	c.pool.Close()
}

func buildQuery(fidHex string, fsid uint32) string {
	return fmt.Sprintf("/?fst.pcmd=getfmd&fst.getfmd.fid=%s&fst.getfmd.fsid=%d&fst.getfmd.lz4=1", fidHex, fsid)
}

type fetchResult struct {
	rec *fmd.Record
	err error
}

// FetchRemote issues a getfmd query for fidHex/fsid to server ("host:port")
// and parses the response (spec.md §4.9). It verifies the returned
// record's fid matches the one requested, returning ErrMismatch if not.
// The dial/query/parse round trip runs on the client's task pool, and the
// caller waits for it at most one second longer than the timeout.
func (c *Client) FetchRemote(server, fidHex string, fsid uint32) (*fmd.Record, error) {
	requested, err := strconv.ParseUint(fidHex, 16, 64)
	if err != nil {
		return nil, errors.Annotatef(fmd.ErrParse, "invalid fid_hex %q: %v", fidHex, err)
	}

	done := make(chan fetchResult, 1)
	c.pool.AddTask(func() {
		rec, err := c.roundTrip(server, fidHex, fsid, requested)
		done <- fetchResult{rec, err}
	})

	select {
	case res := <-done:
		return res.rec, res.err
	case <-time.After(c.timeout + time.Second):
		return nil, errors.Annotate(fmd.ErrTransport, "peer fetch task pool did not complete in time")
	}
}

func (c *Client) roundTrip(server, fidHex string, fsid uint32, requested uint64) (*fmd.Record, error) {
	dialAddr := server
	if host, port, err := net.SplitHostPort(server); err == nil {
		dialAddr = gxnet.HostAddress2(host, port)
	}

	conn, err := net.DialTimeout("tcp", dialAddr, c.timeout)
	if err != nil {
		return nil, errors.Annotate(fmd.ErrTransport, err.Error())
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, errors.Annotate(fmd.ErrTransport, err.Error())
	}

	query := buildQuery(fidHex, fsid)
	log.Debug("xfmd peer client querying %s: %s", dialAddr, query)
	if _, err := fmt.Fprintf(conn, "%s\n", query); err != nil {
		return nil, errors.Annotate(fmd.ErrTransport, err.Error())
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return nil, errors.Annotate(fmd.ErrTransport, err.Error())
	}
	line = strings.TrimRight(line, "\r\n")

	status, body, ok := strings.Cut(line, " ")
	if !ok {
		return nil, errors.Annotate(fmd.ErrTransport, "malformed peer response")
	}

	var rec *fmd.Record
	switch status {
	case "kXR_ok":
		if strings.HasPrefix(body, "ERROR") {
			return nil, fmd.ErrNotPresent
		}
		if strings.HasPrefix(body, lz4BodyPrefix) {
			decoded, err := decodeLZ4Body(body[len(lz4BodyPrefix):])
			if err != nil {
				return nil, errors.Annotate(fmd.ErrParse, err.Error())
			}
			body = decoded
		}
		rec, err = fmd.ParseEnv(body)
		if err != nil {
			return nil, errors.Annotate(fmd.ErrParse, err.Error())
		}
	case "kXR_error":
		return nil, fmd.ErrTransport
	default:
		return nil, fmd.ErrTransport
	}

	if rec.Fid != requested {
		return nil, errors.Annotatef(fmd.ErrMismatch, "requested fid=%#x, peer returned fid=%#x", requested, rec.Fid)
	}
	return rec, nil
}

// decodeLZ4Body decompresses the raw LZ4 frame that follows the "LZ4:"
// prefix of a response body, yielding the env-encoded record.
func decodeLZ4Body(raw string) (string, error) {
	r := lz4.NewReader(strings.NewReader(raw))
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
