package platforms

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type FeishuAdapter struct {
	client *HTTPClient
	now    func() time.Time
}

func NewFeishuAdapter(client *HTTPClient) *FeishuAdapter {
	return &FeishuAdapter{client: client, now: time.Now}
}

func (a *FeishuAdapter) Name() string {
	return "feishu"
}

// Send posts an interactive card. A non-empty secret enables the custom bot
// signature check: sign = base64(hmac_sha256(key=timestamp+"\n"+secret, "")).
func (a *FeishuAdapter) Send(ctx context.Context, endpoint, secret string, msg Message) error {
	elements := make([]map[string]string, 0, len(msg.Fields)+1)
	elements = append(elements, map[string]string{
		"tag":     "markdown",
		"content": fallback(msg.Description, msg.Content),
	})
	for _, f := range msg.Fields {
		elements = append(elements, map[string]string{
			"tag":     "markdown",
			"content": "**" + f.Name + "**: " + f.Value,
		})
	}
	payload := map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"title": map[string]any{
					"tag":     "plain_text",
					"content": msg.Title,
				},
				"template": cardTemplate(msg.Severity),
			},
			"elements": elements,
		},
	}
	if s := strings.TrimSpace(secret); s != "" {
		ts := strconv.FormatInt(a.now().Unix(), 10)
		payload["timestamp"] = ts
		payload["sign"] = FeishuSign(ts, s)
	}

	_, body, err := a.client.PostJSONWithResponse(ctx, endpoint, nil, payload)
	if err != nil {
		return err
	}
	// Feishu answers 200 with a non-zero code on signature or payload errors.
	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if len(body) > 0 && json.Unmarshal(body, &resp) == nil && resp.Code != 0 {
		return fmt.Errorf("feishu rejected message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

func FeishuSign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(timestamp+"\n"+secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func cardTemplate(severity string) string {
	switch severity {
	case "critical":
		return "red"
	case "high":
		return "orange"
	case "medium":
		return "yellow"
	default:
		return "blue"
	}
}

func fallback(v, d string) string {
	if v == "" {
		return d
	}
	return v
}
