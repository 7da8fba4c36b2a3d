// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"fmt"
	"net/http"
)

// Reach sends a HEAD request to origin and returns the response status.
// An error means no response arrived at all.
func Reach(ctx context.Context, client *http.Client, origin, userAgent string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, origin, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create origin request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("origin unreachable: %w", err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// ConnectionCheck returns a check that passes whenever origin answers,
// whatever the status.
func ConnectionCheck(client *http.Client, origin, userAgent string) func(context.Context) error {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		_, err := Reach(ctx, client, origin, userAgent)
		return err
	}
}
