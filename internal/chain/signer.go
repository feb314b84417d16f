package chain

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chip-settlement/internal/config"
)

// RemoteSigner asks a custody signing service to build and sign the
// settlement transfer. Requests carry an HMAC-SHA256 of "<ts>.<body>".
type RemoteSigner struct {
	url        string
	secret     []byte
	httpClient *http.Client
	now        func() time.Time
}

func NewRemoteSigner(cfg config.ChainConfig) (*RemoteSigner, error) {
	if strings.TrimSpace(cfg.SignerURL) == "" {
		return nil, errors.New("SIGNER_URL is required")
	}
	if cfg.SignerSecret == "" {
		return nil, errors.New("SIGNER_SECRET is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteSigner{
		url:        strings.TrimRight(cfg.SignerURL, "/") + "/sign",
		secret:     []byte(cfg.SignerSecret),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

type signResponse struct {
	RawTxHex string `json:"raw_tx_hex"`
	Error    string `json:"error"`
}

func (s *RemoteSigner) Sign(ctx context.Context, in TransferInstruction) (SignedPayload, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return SignedPayload{}, err
	}
	ts := strconv.FormatInt(s.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return SignedPayload{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-Timestamp", ts)
	req.Header.Set("X-Signature", SignatureFor(s.secret, ts, body))
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SignedPayload{}, fmt.Errorf("signer request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SignedPayload{}, err
	}
	var out signResponse
	_ = json.Unmarshal(raw, &out)
	switch {
	case resp.StatusCode >= 500:
		return SignedPayload{}, &APIError{Status: resp.StatusCode, Msg: out.Error}
	case resp.StatusCode >= 400:
		return SignedPayload{}, fmt.Errorf("%w: status=%d %s", ErrSignerRejected, resp.StatusCode, out.Error)
	case out.RawTxHex == "":
		return SignedPayload{}, fmt.Errorf("%w: empty payload", ErrSignerRejected)
	}
	return SignedPayload{WithdrawalID: in.WithdrawalID, RawTxHex: out.RawTxHex}, nil
}

// SignatureFor is the hex HMAC-SHA256 the signing service verifies.
func SignatureFor(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
