package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the heap service of a remote process.
type Client struct {
	stats    *connect.Client[StatsRequest, StatsResponse]
	collect  *connect.Client[CollectGarbageRequest, CollectGarbageResponse]
	snapshot *connect.Client[SnapshotRequest, SnapshotResponse]
}

// NewClient creates a Client for the service at baseURL, e.g.
// "http://localhost:7766".
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		stats:    connect.NewClient[StatsRequest, StatsResponse](httpClient, baseURL+StatsProcedure, Codec()),
		collect:  connect.NewClient[CollectGarbageRequest, CollectGarbageResponse](httpClient, baseURL+CollectGarbageProcedure, Codec()),
		snapshot: connect.NewClient[SnapshotRequest, SnapshotResponse](httpClient, baseURL+SnapshotProcedure, Codec()),
	}
}

// Stats fetches heap and inline cache counters.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&StatsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// CollectGarbage forces a collection; gcType is a name such as "OLD_GC",
// or empty for a full compacting collection.
func (c *Client) CollectGarbage(ctx context.Context, gcType string) (*CollectGarbageResponse, error) {
	resp, err := c.collect.CallUnary(ctx, connect.NewRequest(&CollectGarbageRequest{GCType: gcType}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Snapshot downloads the encoded snapshot document.
func (c *Client) Snapshot(ctx context.Context) (*SnapshotResponse, error) {
	resp, err := c.snapshot.CallUnary(ctx, connect.NewRequest(&SnapshotRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
