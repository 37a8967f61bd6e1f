package faucet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// clientEnvelope is one request to the external faucet server. The sealed
// frame travels base64-encoded inside a JSON envelope so replies can be
// correlated by id.
type clientEnvelope struct {
	ID   uint64 `json:"id"`
	Data string `json:"data"`
}

// clientReply is the external server's answer.
type clientReply struct {
	ID     uint64 `json:"id"`
	TxHash string `json:"txHash"`
	Error  string `json:"error"`
}

// Client is the outbound websocket connection to the external faucet server.
// It dials lazily, correlates replies by request id and redials after errors.
type Client struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	pending map[uint64]chan clientReply
}

// NewClient creates a faucet client for the given websocket URL.
func NewClient(url string, logger *zap.Logger) *Client {
	return &Client{
		url:     url,
		logger:  logger,
		pending: make(map[uint64]chan clientReply),
	}
}

// Send transmits one sealed frame and waits for the correlated reply or the
// context deadline.
func (c *Client) Send(ctx context.Context, sealed []byte) (Reply, error) {
	id, ch, err := c.write(ctx, sealed)
	if err != nil {
		return Reply{}, err
	}
	defer c.forget(id)

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return Reply{Err: fmt.Errorf("%s", reply.Error)}, nil
		}
		return Reply{TxHash: reply.TxHash}, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Close shuts the connection down. Pending requests fail via their contexts.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// write registers a pending reply slot and sends the envelope, dialing first
// if necessary.
func (c *Client) write(ctx context.Context, sealed []byte) (uint64, chan clientReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return 0, nil, err
		}
	}

	c.nextID++
	id := c.nextID
	ch := make(chan clientReply, 1)
	c.pending[id] = ch

	envelope := clientEnvelope{ID: id, Data: base64.StdEncoding.EncodeToString(sealed)}
	if err := c.conn.WriteJSON(envelope); err != nil {
		delete(c.pending, id)
		c.dropLocked()
		return 0, nil, fmt.Errorf("faucet write failed: %w", err)
	}
	return id, ch, nil
}

// dialLocked connects and starts the read loop. Callers hold mu.
func (c *Client) dialLocked(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("faucet dial %s failed: %w", c.url, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	c.logger.Info("connected to faucet server", zap.String("url", c.url))
	return nil
}

// readLoop dispatches replies to their pending slots until the connection
// dies, then clears it so the next Send redials.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var reply clientReply
		if err := conn.ReadJSON(&reply); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.dropLocked()
			}
			c.mu.Unlock()
			c.logger.Warn("faucet connection lost", zap.Error(err))
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.ID]
		delete(c.pending, reply.ID)
		c.mu.Unlock()
		if ok {
			ch <- reply
		} else {
			c.logger.Warn("uncorrelated faucet reply", zap.Uint64("id", reply.ID))
		}
	}
}

// dropLocked closes and clears the connection. Callers hold mu.
func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// forget discards the pending slot for an abandoned request.
func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// decodeEnvelope is used by tests standing in for the external server.
func decodeEnvelope(raw []byte) (clientEnvelope, []byte, error) {
	var env clientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Data)
	return env, sealed, err
}
