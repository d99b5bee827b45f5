/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package toncenter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"ton-escrow-ledger-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

const (
	defaultBaseUrl  = "https://toncenter.com/api/v2"
	defaultMaxPages = 10
	maxErrorBody    = 512
)

// Client reads account transactions from a TON Center v2 compatible indexer
type Client struct {
	baseUrl    string
	apiKey     string
	timeout    time.Duration
	maxPages   int
	limiter    *rate.Limiter
	httpClient *http.Client
}

func NewClient(cfg models.IndexerConfig) (*Client, error) {
	httpClient, err := createCustomHttpClient(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	return newClient(cfg, httpClient), nil
}

func newClient(cfg models.IndexerConfig, httpClient *http.Client) *Client {
	baseUrl := strings.TrimRight(cfg.BaseUrl, "/")
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}

	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		baseUrl:    baseUrl,
		apiKey:     cfg.ApiKey,
		timeout:    cfg.RequestTimeout,
		maxPages:   maxPages,
		limiter:    rate.NewLimiter(limit, 1),
		httpClient: httpClient,
	}
}

func createCustomHttpClient(timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// GetTransactionsSince returns the account's transactions with lt > sinceLt in
// ascending lt order. The indexer serves newest first, so pages are walked
// backwards with the (lt, hash) cursor until sinceLt is reached. A page
// requested with a cursor starts at the cursor transaction itself; it is
// dropped and one extra row is requested to keep pageSize new rows per page.
// If reaching sinceLt takes more than maxPages pages nothing is returned and
// the error matches ErrBacklogTooDeep.
func (c *Client) GetTransactionsSince(ctx context.Context, address string, sinceLt uint64, pageSize int) ([]models.ChainTransaction, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}

	var collected []models.ChainTransaction
	seen := make(map[string]struct{})
	var cursorLt uint64
	var cursorHash string

	for page := 0; page < c.maxPages; page++ {
		limit := pageSize
		if cursorLt > 0 {
			limit++
		}

		batch, err := c.getTransactions(ctx, address, limit, cursorLt, cursorHash, sinceLt)
		if err != nil {
			return nil, err
		}
		exhausted := len(batch) < limit

		if cursorLt > 0 && len(batch) > 0 && batch[0].Lt == cursorLt && batch[0].Hash == cursorHash {
			batch = batch[1:]
		}

		added := 0
		reachedCheckpoint := false
		for _, tx := range batch {
			if tx.Lt <= sinceLt {
				reachedCheckpoint = true
				break
			}
			key := strconv.FormatUint(tx.Lt, 10) + ":" + tx.Hash
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			collected = append(collected, tx)
			added++
		}

		if reachedCheckpoint || exhausted {
			sort.Slice(collected, func(i, j int) bool { return collected[i].Lt < collected[j].Lt })
			zap.L().Debug("Fetched transactions",
				zap.String("address", address),
				zap.Uint64("since_lt", sinceLt),
				zap.Int("pages", page+1),
				zap.Int("count", len(collected)))
			return collected, nil
		}

		if added == 0 {
			return nil, &UpstreamError{
				Op:  "getTransactions",
				Err: fmt.Errorf("full page at lt %d returned no new transactions", cursorLt),
			}
		}

		last := collected[len(collected)-1]
		cursorLt, cursorHash = last.Lt, last.Hash
	}

	return nil, fmt.Errorf("getTransactions: %w: more than %d pages of %d after lt %d",
		ErrBacklogTooDeep, c.maxPages, pageSize, sinceLt)
}

func (c *Client) getTransactions(ctx context.Context, address string, limit int, lt uint64, hash string, toLt uint64) ([]models.ChainTransaction, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("to_lt", strconv.FormatUint(toLt, 10))
	params.Set("archival", "true")
	if lt > 0 {
		params.Set("lt", strconv.FormatUint(lt, 10))
		params.Set("hash", hash)
	}

	var resp transactionsResponse
	if err := c.get(ctx, "getTransactions", params, &resp); err != nil {
		return nil, err
	}
	if !resp.Ok {
		return nil, &UpstreamError{Op: "getTransactions", Err: fmt.Errorf("response not ok: %s (code %d)", resp.Error, resp.Code)}
	}

	txs := make([]models.ChainTransaction, 0, len(resp.Result))
	for _, raw := range resp.Result {
		tx, err := raw.toChain()
		if err != nil {
			return nil, &UpstreamError{Op: "getTransactions", Err: err}
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Healthy checks that the indexer answers a masterchain info request
func (c *Client) Healthy(ctx context.Context) error {
	var resp masterchainInfoResponse
	if err := c.get(ctx, "getMasterchainInfo", url.Values{}, &resp); err != nil {
		return err
	}
	if !resp.Ok {
		return &UpstreamError{Op: "getMasterchainInfo", Err: fmt.Errorf("response not ok: %s", resp.Error)}
	}
	return nil
}

func (c *Client) get(ctx context.Context, method string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	endpoint := c.baseUrl + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Op: method, Err: err}
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			zap.L().Debug("Failed to close response body", zap.Error(err))
		}
	}(resp.Body)

	zap.L().Debug("Indexer request completed",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamError{Op: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s returned HTTP %d: %s", ErrRequestRejected, method, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &UpstreamError{Op: method, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
