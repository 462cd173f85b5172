package peer

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/xfmd/fmd"
)

func serveOnce(t *testing.T, respond func(query string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		fmt.Fprint(conn, respond(line))
	}()

	return ln.Addr().String()
}

func fakeRecordEnv(t *testing.T, fid uint64) string {
	t.Helper()
	rec := &fmd.Record{
		Magic:          fmd.MagicCreateOrUpdate,
		SequenceHeader: 1,
		Fid:            fid,
		Fsid:           2,
		Size:           1024,
	}
	buf := fmd.Serialize(rec)
	parsed, err := fmd.Parse(buf)
	require.NoError(t, err)
	return fmd.EncodeEnv(parsed)
}

func TestFetchRemoteParsesOkResponse(t *testing.T) {
	addr := serveOnce(t, func(query string) string {
		return "kXR_ok " + fakeRecordEnv(t, 0xcafe) + "\n"
	})

	c := NewClient(time.Second)
	defer c.Close()

	rec, err := c.FetchRemote(addr, "cafe", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xcafe), rec.Fid)
}

func TestFetchRemoteMapsErrorPrefixToNotPresent(t *testing.T) {
	addr := serveOnce(t, func(query string) string {
		return "kXR_ok ERROR no such file\n"
	})

	c := NewClient(time.Second)
	defer c.Close()

	_, err := c.FetchRemote(addr, "cafe", 2)
	assert.ErrorIs(t, err, fmd.ErrNotPresent)
}

func TestFetchRemoteMapsTransportError(t *testing.T) {
	addr := serveOnce(t, func(query string) string {
		return "kXR_error bad request\n"
	})

	c := NewClient(time.Second)
	defer c.Close()

	_, err := c.FetchRemote(addr, "cafe", 2)
	assert.ErrorIs(t, err, fmd.ErrTransport)
}

func TestFetchRemoteDetectsFidMismatch(t *testing.T) {
	addr := serveOnce(t, func(query string) string {
		return "kXR_ok " + fakeRecordEnv(t, 0xbeef) + "\n"
	})

	c := NewClient(time.Second)
	defer c.Close()

	_, err := c.FetchRemote(addr, "cafe", 2)
	assert.ErrorIs(t, err, fmd.ErrMismatch)
}

func TestFetchRemoteTimesOutOnDeadConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(200 * time.Millisecond)
	}()

	c := NewClient(20 * time.Millisecond)
	defer c.Close()

	_, err = c.FetchRemote(ln.Addr().String(), "cafe", 2)
	assert.ErrorIs(t, err, fmd.ErrTransport)
}
