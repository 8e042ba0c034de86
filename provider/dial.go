package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Dial selects WSProvider for ws/wss URLs and PollProvider for everything
// else, matching the `--rpc` flag's scheme-sniffing contract (spec.md §6).
func Dial(ctx context.Context, rpcURL string, pollInterval time.Duration) (Provider, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("provider: parse rpc url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return DialWS(ctx, rpcURL)
	default:
		return DialPoll(ctx, rpcURL, pollInterval)
	}
}
