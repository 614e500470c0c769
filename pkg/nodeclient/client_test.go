package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mbhillrn/peerwatch/pkg/addrutil"
	"github.com/mbhillrn/peerwatch/pkg/peers"
)

func rpcHandler(peersResult, addrsResult string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "getpeerinfo":
			fmt.Fprintf(w, `{"result":%s,"error":null,"id":%d}`, peersResult, req.ID)
		case "getnodeaddresses":
			fmt.Fprintf(w, `{"result":%s,"error":null,"id":%d}`, addrsResult, req.ID)
		default:
			fmt.Fprintf(w, `{"result":null,"error":{"code":-32601,"message":"Method not found"},"id":%d}`, req.ID)
		}
	}
}

func TestPeers_MapsRecords(t *testing.T) {
	peersJSON := `[
		{"id":9,"addr":"51.15.120.4:8333","inbound":true,
		 "bytessent":1024,"bytesrecv":4096,"pingtime":0.0421,
		 "conntime":1717243200,"subver":"/Satoshi:27.0.0/"},
		{"id":10,"addr":"examplehost.onion:8333","network":"onion","inbound":false}
	]`
	srv := httptest.NewServer(rpcHandler(peersJSON, `[{"address":"51.15.120.4"}]`))
	defer srv.Close()

	c := New(Options{URL: srv.URL}, zap.NewNop())
	recs, err := c.Peers(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]
	require.Equal(t, int64(9), first.ID)
	require.Equal(t, "51.15.120.4:8333", first.Addr)
	require.Equal(t, addrutil.NetworkIPv4, first.Network) // classified, node omitted it
	require.Equal(t, peers.DirectionIn, first.Direction)
	require.Equal(t, uint64(1024), first.BytesSent)
	require.Equal(t, uint64(4096), first.BytesRecv)
	require.InDelta(t, 42.1, first.PingMs, 0.01)
	require.Equal(t, time.Unix(1717243200, 0).UTC(), first.ConnectedSince)
	require.Equal(t, "/Satoshi:27.0.0/", first.UserAgent)
	require.True(t, first.InAddrManager)

	second := recs[1]
	require.Equal(t, addrutil.NetworkOnion, second.Network)
	require.Equal(t, peers.DirectionOut, second.Direction)
	require.True(t, second.ConnectedSince.IsZero())
	require.False(t, second.InAddrManager)
}

func TestPeers_NodeDownIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(`[]`, `[]`))
	srv.Close()

	c := New(Options{URL: srv.URL}, zap.NewNop())
	_, err := c.Peers(context.Background())
	require.ErrorIs(t, err, ErrNodeUnavailable)
}

func TestPeers_RPCErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":null,"error":{"code":-28,"message":"Loading block index"}}`)
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL}, zap.NewNop())
	_, err := c.Peers(context.Background())
	require.ErrorIs(t, err, ErrNodeUnavailable)
	require.Contains(t, err.Error(), "Loading block index")
}

func TestPeers_GarbageBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL}, zap.NewNop())
	_, err := c.Peers(context.Background())
	require.ErrorIs(t, err, ErrNodeUnavailable)
}

func TestPeers_SendsBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rpcuser" || pass != "rpcpass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		rpcHandler(`[]`, `[]`)(w, r)
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL, User: "rpcuser", Pass: "rpcpass"}, zap.NewNop())
	_, err := c.Peers(context.Background())
	require.NoError(t, err)
}

func TestPeers_CookieReloadOn401(t *testing.T) {
	cookiePath := filepath.Join(t.TempDir(), ".cookie")
	require.NoError(t, os.WriteFile(cookiePath, []byte("__cookie__:oldsecret\n"), 0o600))

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "__cookie__" || pass != "newsecret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		rpcHandler(`[]`, `[]`)(w, r)
	}))
	defer srv.Close()

	c := New(Options{URL: srv.URL, CookiePath: cookiePath}, zap.NewNop())

	// Node restarted: the cookie on disk rotated after the client read it.
	require.NoError(t, os.WriteFile(cookiePath, []byte("__cookie__:newsecret\n"), 0o600))

	recs, err := c.Peers(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}
