package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testClient(url string) *Client {
	return NewClient(Options{
		RPCURL:    url,
		APIKey:    "test-key",
		Timeout:   time.Second,
		UserAgent: "test",
	}, testLogger())
}

func TestClientEnvelopeAndAuth(t *testing.T) {
	var got struct {
		JSONRPC string            `json:"jsonrpc"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
		ID      uint64            `json:"id"`
	}
	var auth, contentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      got.ID,
			"result":  []any{map[string]any{"height": 10, "timestamp": 1000}},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.BlocksByHeight(context.Background(), []uint64{10}); err != nil {
		t.Fatalf("BlocksByHeight failed: %v", err)
	}

	if auth != "Bearer test-key" {
		t.Fatalf("authorization header wrong: %q", auth)
	}
	if contentType != "application/json" {
		t.Fatalf("content type wrong: %q", contentType)
	}
	if got.JSONRPC != "2.0" {
		t.Fatalf("jsonrpc version wrong: %q", got.JSONRPC)
	}
	if got.Method != "getBlocksByHeight" {
		t.Fatalf("method wrong: %q", got.Method)
	}
	if len(got.Params) != 1 {
		t.Fatalf("params must be a single-element list, got %d", len(got.Params))
	}
}

func TestClientRequestIDsIncrease(t *testing.T) {
	var ids []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID uint64 `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req.ID)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  []any{},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.BlocksByHeight(context.Background(), []uint64{1}); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}

	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("request ids should increase monotonically from 1, got %v", ids)
	}
}

func TestClientMissingHeightsAreNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": []any{
				map[string]any{"height": 5, "timestamp": 500},
				nil,
			},
		})
	}))
	defer srv.Close()

	blocks, err := testClient(srv.URL).BlocksByHeight(context.Background(), []uint64{5, 99})
	if err != nil {
		t.Fatalf("BlocksByHeight failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(blocks))
	}
	if blocks[0] == nil || blocks[0].Height != 5 {
		t.Fatalf("first entry should be block 5, got %#v", blocks[0])
	}
	if blocks[1] != nil {
		t.Fatalf("missing height should map to nil, got %#v", blocks[1])
	}
}

func TestClientErrorsFoldIntoOneOutcome(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name: "rpc error field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0",
					"id":      1,
					"error":   map[string]any{"code": -32000, "message": "height index unavailable"},
				})
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
		{
			name: "null result",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0",
					"id":      1,
					"result":  nil,
				})
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			if _, err := testClient(srv.URL).Tip(context.Background()); err == nil {
				t.Fatal("expected an error outcome")
			}
		})
	}
}

func TestClientTipDecodesBigWork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]any{
				"height":          57321,
				"timestamp":       1700000000,
				"accumulatedWork": "36893488147419103232",
				"epochCounter":    57321,
				"digest":          "abcdef0123456789",
				"txids":           []string{"t1", "t2"},
			},
		})
	}))
	defer srv.Close()

	block, err := testClient(srv.URL).Tip(context.Background())
	if err != nil {
		t.Fatalf("Tip failed: %v", err)
	}
	if block.Height != 57321 {
		t.Fatalf("height wrong: %d", block.Height)
	}
	// 2^65 does not fit in uint64; the string form must stay lossless.
	if block.AccumulatedWork.String() != "36893488147419103232" {
		t.Fatalf("accumulated work wrong: %s", block.AccumulatedWork.String())
	}
	if len(block.TxIDs) != 2 {
		t.Fatalf("txids wrong: %v", block.TxIDs)
	}
}

func TestClientTimestampRangeParams(t *testing.T) {
	var params struct {
		MinTimestamp int64 `json:"minTimestamp"`
		MaxTimestamp int64 `json:"maxTimestamp"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params []json.RawMessage `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Params) == 1 {
			_ = json.Unmarshal(req.Params[0], &params)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  []any{map[string]any{"height": 7, "timestamp": 1500}},
		})
	}))
	defer srv.Close()

	blocks, err := testClient(srv.URL).BlocksByTimestampRange(context.Background(), 1000, 2000)
	if err != nil {
		t.Fatalf("BlocksByTimestampRange failed: %v", err)
	}
	if params.MinTimestamp != 1000 || params.MaxTimestamp != 2000 {
		t.Fatalf("range params wrong: %+v", params)
	}
	if len(blocks) != 1 || blocks[0].Height != 7 {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}
