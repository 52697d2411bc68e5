// Package wsclient is a small request/response client for the gateway
// websocket protocol.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shubham-shewale/market-cache/pkg/protocol"
)

// ErrServer wraps error replies from the gateway.
var ErrServer = errors.New("gateway error")

// Frame is a server frame with its data left undecoded.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client is not safe for concurrent use.
type Client struct {
	conn *websocket.Conn
	// OnFrame sees every frame that is not the reply being waited for.
	OnFrame func(Frame)

	closeOnce sync.Once
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// Do sends one request and waits for the frame carrying its ID.
func (c *Client) Do(ctx context.Context, action string, payload protocol.RequestPayload) (Frame, error) {
	req := protocol.WSRequest{Action: action, Payload: payload, ID: uuid.NewString()}
	if err := c.conn.WriteJSON(req); err != nil {
		return Frame{}, fmt.Errorf("send %s: %w", action, err)
	}

	stop := c.watchContext(ctx)
	defer stop()

	for {
		f, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, err
		}
		if f.ID != req.ID {
			if c.OnFrame != nil {
				c.OnFrame(f)
			}
			continue
		}
		if f.Type == protocol.TypeError || f.Status == "error" {
			return f, fmt.Errorf("%w: %s", ErrServer, f.Message)
		}
		return f, nil
	}
}

// Stream hands every unsolicited frame to fn until ctx ends or the
// connection drops. A cancelled ctx is not reported as an error.
func (c *Client) Stream(ctx context.Context, fn func(Frame)) error {
	stop := c.watchContext(ctx)
	defer stop()

	for {
		f, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(f)
	}
}

func (c *Client) read() (Frame, error) {
	var f Frame
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return f, fmt.Errorf("read: %w", err)
	}
	if err := json.Unmarshal(msg, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// watchContext unblocks a pending read when ctx ends.
func (c *Client) watchContext(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}
