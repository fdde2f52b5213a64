package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogStream is a websocket subscription client for the program log firehose.
// It implements the external log-stream contract: a subscription takes a
// program id at confirmed commitment and delivers {signature, logs[]} batches.
//
// The stream owns a single connection. Failover across endpoints is the
// watcher's job; the stream only reports transport errors upward and stops.
type LogStream struct {
	URL  string
	conn *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan subResponse
	subs    map[int64]subscription

	onError func(error)
	closed  chan struct{}
	once    sync.Once
}

type subscription struct {
	ProgramID string
	Callback  func(signature string, logs []string)
}

type subResponse struct {
	SubID int64
	Err   error
}

// DialLogStream connects to a websocket RPC endpoint and starts the read loop.
// onError fires once per transport failure, after which the stream is dead and
// must be replaced by the caller.
func DialLogStream(ctx context.Context, url string, onError func(error)) (*LogStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	s := &LogStream{
		URL:     url,
		conn:    conn,
		pending: make(map[uint64]chan subResponse),
		subs:    make(map[int64]subscription),
		onError: onError,
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// SubscribeLogs subscribes to log batches mentioning programID at confirmed
// commitment and returns the server-assigned subscription id.
func (s *LogStream) SubscribeLogs(ctx context.Context, programID string, cb func(signature string, logs []string)) (int64, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	ch := make(chan subResponse, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{programID}},
			map[string]interface{}{"commitment": "confirmed"},
		},
	}
	if err := s.writeJSON(req); err != nil {
		s.dropPending(id)
		return 0, err
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return 0, resp.Err
		}
		s.mu.Lock()
		s.subs[resp.SubID] = subscription{ProgramID: programID, Callback: cb}
		s.mu.Unlock()
		return resp.SubID, nil
	case <-ctx.Done():
		s.dropPending(id)
		return 0, ctx.Err()
	case <-s.closed:
		return 0, fmt.Errorf("log stream closed")
	}
}

// Unsubscribe removes a single log subscription.
func (s *LogStream) Unsubscribe(subID int64) {
	s.mu.Lock()
	delete(s.subs, subID)
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	_ = s.writeJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "logsUnsubscribe",
		"params":  []interface{}{subID},
	})
}

// SubscriptionIDs returns the ids of all live subscriptions.
func (s *LogStream) SubscriptionIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}

// Close unsubscribes everything and tears down the connection.
func (s *LogStream) Close() {
	for _, id := range s.SubscriptionIDs() {
		s.Unsubscribe(id)
	}
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *LogStream) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(v)
}

func (s *LogStream) dropPending(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

type wsEnvelope struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Signature string      `json:"signature"`
				Err       interface{} `json:"err"`
				Logs      []string    `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (s *LogStream) readLoop() {
	defer func() {
		s.once.Do(func() {
			close(s.closed)
			_ = s.conn.Close()
		})
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				// Deliberate shutdown, not a transport failure.
			default:
				if s.onError != nil {
					s.onError(err)
				}
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("[LogStream] Undecodable frame from %s: %v", s.URL, err)
			continue
		}

		// Response to a subscribe/unsubscribe request.
		if env.ID != nil {
			s.mu.Lock()
			ch, ok := s.pending[*env.ID]
			delete(s.pending, *env.ID)
			s.mu.Unlock()
			if !ok {
				continue
			}
			if env.Error != nil {
				ch <- subResponse{Err: env.Error}
				continue
			}
			var subID int64
			if err := json.Unmarshal(env.Result, &subID); err == nil {
				ch <- subResponse{SubID: subID}
			} else {
				// logsUnsubscribe acks with a bool; no pending waiter cares.
				ch <- subResponse{}
			}
			continue
		}

		if env.Method != "logsNotification" || env.Params == nil {
			continue
		}
		// Failed transactions still emit log notifications; skip them.
		if env.Params.Result.Value.Err != nil {
			continue
		}

		s.mu.Lock()
		sub, ok := s.subs[env.Params.Subscription]
		s.mu.Unlock()
		if !ok {
			continue
		}
		sub.Callback(env.Params.Result.Value.Signature, env.Params.Result.Value.Logs)
	}
}
