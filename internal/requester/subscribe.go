package requester

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/torosent/lopnur/internal/clientmetrics"
	"github.com/torosent/lopnur/internal/httpclient"
	"github.com/torosent/lopnur/internal/model"
	"github.com/torosent/lopnur/internal/pool"
	"github.com/torosent/lopnur/internal/tracing"
	"github.com/torosent/lopnur/internal/websocket"
)

var subscriptionIDs atomic.Uint64

// subscriber measures slotSubscribe: subscribe, wait for the first
// slotNotification, unsubscribe. Connections go back to the pool only
// after a clean unsubscribe.
type subscriber struct {
	pool      *pool.Pool[*websocket.Client]
	headers   http.Header
	propagate bool
	traffic   *clientmetrics.Registry
	log       logrus.FieldLogger
}

func (s *subscriber) Do(ctx context.Context, p model.Provider) error {
	url := p.WSEndpoint
	if url == "" {
		derived, err := websocket.EndpointURL(p.Endpoint)
		if err != nil {
			return err
		}
		url = derived
	}

	header := s.headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	counters := s.traffic.For(p.Name, ProtocolWebsocket)
	factory := func() *websocket.Client {
		h := header.Clone()
		if s.propagate {
			tracing.InjectHTTPHeaders(ctx, h)
		}
		return websocket.NewClient(websocket.Config{URL: url, Headers: h, Counters: counters})
	}
	key := pool.Key(url, s.headers)

	client, reused := s.pool.Get(key, factory)
	if !reused {
		if err := client.Connect(ctx); err != nil {
			s.pool.Discard(client)
			return err
		}
	}

	subID, err := s.subscribe(ctx, client)
	if err != nil && reused && ctx.Err() == nil {
		// Idle connections can be closed by the provider while parked.
		s.log.WithFields(logrus.Fields{"provider": p.Name, "error": err}).Debug("reconnecting stale websocket")
		client, err = s.pool.Retry(ctx, client, factory)
		if err != nil {
			return err
		}
		subID, err = s.subscribe(ctx, client)
	}
	if err != nil {
		s.pool.Discard(client)
		return err
	}

	if err := s.awaitNotification(ctx, client, subID); err != nil {
		s.pool.Discard(client)
		return err
	}

	if err := s.unsubscribe(ctx, client, subID); err != nil {
		s.log.WithFields(logrus.Fields{"provider": p.Name, "error": err}).Debug("slotUnsubscribe failed")
		s.pool.Discard(client)
		return nil
	}
	_ = s.pool.Put(key, client)
	return nil
}

func (s *subscriber) subscribe(ctx context.Context, c *websocket.Client) (int64, error) {
	result, err := s.request(ctx, c, "slotSubscribe")
	if err != nil {
		return 0, err
	}
	if result.Type != gjson.Number {
		return 0, fmt.Errorf("slotSubscribe: unexpected result %s", result.Raw)
	}
	return result.Int(), nil
}

func (s *subscriber) unsubscribe(ctx context.Context, c *websocket.Client, subID int64) error {
	result, err := s.request(ctx, c, "slotUnsubscribe", subID)
	if err != nil {
		return err
	}
	if !result.Bool() {
		return errors.New("slotUnsubscribe: provider refused")
	}
	return nil
}

// request sends a call and reads until the matching response, skipping
// notifications left over from earlier subscriptions on the connection.
func (s *subscriber) request(ctx context.Context, c *websocket.Client, method string, params ...any) (gjson.Result, error) {
	req := httpclient.NewRPCRequest(method, params...)
	req.ID = subscriptionIDs.Add(1)
	if err := c.WriteJSON(ctx, req); err != nil {
		return gjson.Result{}, err
	}
	for {
		data, err := c.ReadMessage(ctx)
		if err != nil {
			return gjson.Result{}, err
		}
		if gjson.GetBytes(data, "id").Uint() != req.ID {
			continue
		}
		return parseResponse(data)
	}
}

func (s *subscriber) awaitNotification(ctx context.Context, c *websocket.Client, subID int64) error {
	for {
		data, err := c.ReadMessage(ctx)
		if err != nil {
			return err
		}
		msg := gjson.ParseBytes(data)
		if msg.Get("method").String() != "slotNotification" {
			continue
		}
		if msg.Get("params.subscription").Int() != subID {
			continue
		}
		if !msg.Get("params.result.slot").Exists() {
			return fmt.Errorf("slotNotification without slot: %s", httpclient.Snippet(data, 128))
		}
		return nil
	}
}
