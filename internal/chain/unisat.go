package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chip-settlement/internal/config"
	"chip-settlement/internal/tracing"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// unconfirmedHeight is what the indexer reports for mempool transactions.
const unconfirmedHeight = 4194303

// UniSatClient implements Observer against the UniSat open API (Fractal
// Bitcoin BRC-20 indexer).
type UniSatClient struct {
	baseURL    string
	apiKey     string
	ticker     string
	pageSize   int
	maxRetries int
	retryDelay time.Duration

	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	tipGroup   singleflight.Group
	tracer     trace.Tracer
}

func NewUniSatClient(cfg config.ChainConfig) *UniSatClient {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	settings := gobreaker.Settings{
		Name:        "unisat",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(float64(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("chain breaker state changed")
		},
	}
	return &UniSatClient{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		ticker:     cfg.Ticker,
		pageSize:   pageSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    gobreaker.NewCircuitBreaker(settings),
		limiter:    rate.NewLimiter(limit, 1),
		tracer:     tracing.Tracer("chain"),
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type historyItem struct {
	Ticker    string `json:"ticker"`
	Type      string `json:"type"`
	Valid     bool   `json:"valid"`
	TxID      string `json:"txid"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Height    int64  `json:"height"`
	BlockTime int64  `json:"blocktime"`
}

type historyData struct {
	Height int64         `json:"height"`
	Total  int           `json:"total"`
	Start  int           `json:"start"`
	Detail []historyItem `json:"detail"`
}

// maxHistoryPages bounds one poll. A poll that hits the bound without
// reaching the mark keeps the old mark, so nothing older is skipped.
const maxHistoryPages = 200

// historyMark is the newest confirmed history entry already returned for an
// address, encoded as "<height>:<txid>".
type historyMark struct {
	height int64
	txid   string
}

func parseHistoryMark(cursor string) (historyMark, error) {
	if cursor == "" {
		return historyMark{}, nil
	}
	h, txid, ok := strings.Cut(cursor, ":")
	height, err := strconv.ParseInt(h, 10, 64)
	if !ok || err != nil || height <= 0 || txid == "" {
		return historyMark{}, fmt.Errorf("invalid cursor %q", cursor)
	}
	return historyMark{height: height, txid: txid}, nil
}

func (m historyMark) String() string {
	if m.height <= 0 {
		return ""
	}
	return strconv.FormatInt(m.height, 10) + ":" + m.txid
}

func confirmedHeight(h int64) bool {
	return h > 0 && h != unconfirmedHeight
}

// PollTransfers returns transfers newer than cursor. The indexer serves
// history newest first, so every poll reads from the top and pages down
// until it passes the mark. Mempool entries and entries in the mark's block
// are returned again on later polls; callers record them idempotently.
func (c *UniSatClient) PollTransfers(ctx context.Context, address, cursor string) (Page, error) {
	mark, err := parseHistoryMark(cursor)
	if err != nil {
		return Page{}, err
	}
	page := Page{Transfers: []Transfer{}, NextCursor: cursor}
	newest := mark
	seen := map[string]struct{}{}
	reached := false
	start := 0
	for pages := 0; pages < maxHistoryPages && !reached; pages++ {
		path := fmt.Sprintf("/v1/indexer/brc20/address/%s/ticker/%s/history?type=receive&start=%d&limit=%d",
			url.PathEscape(address), url.PathEscape(c.ticker), start, c.pageSize)
		var data historyData
		if err := c.do(ctx, "poll_transfers", http.MethodGet, path, nil, &data); err != nil {
			return Page{}, err
		}
		for _, item := range data.Detail {
			confirmed := confirmedHeight(item.Height)
			if confirmed && mark.height > 0 {
				if item.Height < mark.height {
					reached = true
					break
				}
				if item.Height == mark.height && item.TxID == mark.txid {
					continue
				}
			}
			if confirmed && item.Height > newest.height {
				newest = historyMark{height: item.Height, txid: item.TxID}
			}
			if _, dup := seen[item.TxID]; dup {
				continue
			}
			seen[item.TxID] = struct{}{}
			if t, ok := toTransfer(address, item, data.Height); ok {
				page.Transfers = append(page.Transfers, t)
			}
		}
		start += len(data.Detail)
		if len(data.Detail) == 0 || (data.Total > 0 && start >= data.Total) {
			reached = true
		}
	}
	if !reached {
		log.Warn().Str("address", address).Int("pages", maxHistoryPages).Msg("history mark not reached; keeping previous cursor")
		return page, nil
	}
	page.NextCursor = newest.String()
	return page, nil
}

func toTransfer(address string, item historyItem, tip int64) (Transfer, bool) {
	if !item.Valid || item.To != address {
		return Transfer{}, false
	}
	amount, err := decimal.NewFromString(item.Amount)
	if err != nil {
		log.Warn().Str("tx_hash", item.TxID).Str("amount", item.Amount).Msg("skip transfer with unparseable amount")
		return Transfer{}, false
	}
	t := Transfer{
		TxHash: item.TxID,
		From:   item.From,
		To:     item.To,
		Amount: amount,
		Ticker: item.Ticker,
	}
	if confirmedHeight(item.Height) {
		t.BlockHeight = item.Height
		t.Confirmations = confirmationsAt(tip, item.Height).Confirmations
	}
	if item.BlockTime > 0 {
		t.Timestamp = time.Unix(item.BlockTime, 0).UTC()
	}
	return t, true
}

func (c *UniSatClient) Confirmations(ctx context.Context, txHash string) (Confirmation, error) {
	var data struct {
		Height int64 `json:"height"`
	}
	err := c.do(ctx, "confirmations", http.MethodGet, "/v1/indexer/tx/"+url.PathEscape(txHash), nil, &data)
	if isNotFound(err) {
		return Confirmation{Status: StatusPending}, nil
	}
	if err != nil {
		return Confirmation{}, err
	}
	if data.Height <= 0 || data.Height == unconfirmedHeight {
		return Confirmation{Status: StatusPending}, nil
	}
	tip, err := c.TipHeight(ctx)
	if err != nil {
		return Confirmation{}, err
	}
	return confirmationsAt(tip, data.Height), nil
}

// TipHeight coalesces concurrent lookups of the current block height.
func (c *UniSatClient) TipHeight(ctx context.Context) (int64, error) {
	v, err, _ := c.tipGroup.Do("tip", func() (any, error) {
		var data struct {
			Height int64 `json:"height"`
		}
		if err := c.do(ctx, "tip_height", http.MethodGet, "/v1/indexer/blockchain/info", nil, &data); err != nil {
			return int64(0), err
		}
		return data.Height, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *UniSatClient) WalletBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var data struct {
		AvailableBalance string `json:"availableBalance"`
		OverallBalance   string `json:"overallBalance"`
	}
	path := fmt.Sprintf("/v1/indexer/brc20/address/%s/ticker/%s/info", url.PathEscape(address), url.PathEscape(c.ticker))
	err := c.do(ctx, "wallet_balance", http.MethodGet, path, nil, &data)
	if isNotFound(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	raw := data.AvailableBalance
	if raw == "" {
		raw = data.OverallBalance
	}
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// Broadcast submits signed tx hex. An indexer rejection is a *BroadcastError
// and is never retried.
func (c *UniSatClient) Broadcast(ctx context.Context, payload SignedPayload) (string, error) {
	if payload.RawTxHex == "" {
		return "", &BroadcastError{Message: "empty payload"}
	}
	var txid string
	err := c.do(ctx, "broadcast", http.MethodPost, "/v1/indexer/local_pushtx", map[string]string{"txHex": payload.RawTxHex}, &txid)
	var apiErr *APIError
	if errors.As(err, &apiErr) && !IsTransient(err) {
		return "", &BroadcastError{Code: apiErr.Code, Message: apiErr.Msg}
	}
	if err != nil {
		return "", err
	}
	if txid == "" {
		return "", &BroadcastError{Message: "indexer returned no txid"}
	}
	return txid, nil
}

func isNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusNotFound || strings.Contains(strings.ToLower(apiErr.Msg), "not found")
}

// do runs one logical request: rate limit, breaker, bounded retries on
// transient errors.
func (c *UniSatClient) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "chain."+op, trace.WithAttributes(attribute.String("http.method", method)))
	defer span.End()
	started := time.Now()
	defer func() { requestDuration.WithLabelValues(op).Observe(time.Since(started).Seconds()) }()

	policy := backoff.NewExponentialBackOff()
	if c.retryDelay > 0 {
		policy.InitialInterval = c.retryDelay
	}
	tries := uint(1)
	if c.maxRetries > 0 {
		tries += uint(c.maxRetries)
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.once(ctx, method, path, body, out)
		})
		if err != nil && !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			log.Debug().Err(err).Str("op", op).Msg("indexer request failed, retrying")
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(tries))

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if IsTransient(err) {
			outcome = "transient"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	requestsTotal.WithLabelValues(op, outcome).Inc()
	return err
}

func (c *UniSatClient) once(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(raw)
	if resp.StatusCode == http.StatusTooManyRequests || bytes.HasPrefix(trimmed, []byte("<")) {
		return ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return &APIError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Msg: string(trimmed)}
		}
		return fmt.Errorf("decode indexer response: %w", err)
	}
	if resp.StatusCode >= 400 || env.Code != 0 {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode indexer data: %w", err)
	}
	return nil
}
