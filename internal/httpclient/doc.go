// Package httpclient builds and sends JSON-RPC requests to provider endpoints.
//
// [NewClient] returns an *http.Client tuned for many short requests against a
// small set of hosts. [RPCRequest] carries a JSON-RPC 2.0 call; its Build
// method produces a replayable POST for a provider endpoint:
//
//	client := httpclient.NewClient(30 * time.Second)
//	req, err := httpclient.NewRPCRequest("getSlot").Build(ctx, endpoint, nil)
//	if err != nil {
//		return err
//	}
//	resp, err := client.Do(req)
//
// Response bodies are read with [ReadBody], which caps how much of a body is
// buffered.
package httpclient
