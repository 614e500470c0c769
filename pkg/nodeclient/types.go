package nodeclient

import (
	"encoding/json"
	"fmt"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// peerInfo is the subset of the node's getpeerinfo result the engine
// consumes. Fields absent from older nodes decode to zero values.
type peerInfo struct {
	ID        int64   `json:"id"`
	Addr      string  `json:"addr"`
	Network   string  `json:"network"`
	Inbound   bool    `json:"inbound"`
	BytesSent uint64  `json:"bytessent"`
	BytesRecv uint64  `json:"bytesrecv"`
	PingTime  float64 `json:"pingtime"` // seconds
	ConnTime  int64   `json:"conntime"` // unix seconds
	SubVer    string  `json:"subver"`
}

// nodeAddress is one getnodeaddresses entry.
type nodeAddress struct {
	Address string `json:"address"`
}
