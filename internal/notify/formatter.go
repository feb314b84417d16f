package notify

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"chip-settlement/internal/events"
	"chip-settlement/internal/monitor"
)

const (
	colorInfo     = 0x5865F2
	colorSuccess  = 0x57F287
	colorWarn     = 0xFEE75C
	colorHigh     = 0xF0883E
	colorCritical = 0xED4245

	payloadValueLimit = 160
	shortIDLimit      = 14
	defaultFooter     = "chip-settlement"
)

func FormatMessage(ev events.Event) (FormattedMessage, bool) {
	base := FormattedMessage{
		Timestamp: eventTimestamp(ev.ServerTS),
		Footer:    defaultFooter,
	}
	fields := make([]MessageField, 0, 8)

	switch data := ev.Data.(type) {
	case events.AlertRaised:
		base.Severity = data.Severity
		base.Title = fmt.Sprintf("%s · %s", data.Type, strings.ToUpper(fallback(data.Severity, "low")))
		base.Content = fmt.Sprintf("%s alert for %s", strings.ToLower(data.Type), shortID(data.SubjectAddress, shortIDLimit))
		base.Description = fmt.Sprintf("Alert %s raised for %s.", data.Type, fallback(data.SubjectAddress, "-"))
		base.Color = severityColor(data.Severity)
		fields = append(fields,
			MessageField{Name: "Severity", Value: fallback(data.Severity, "-"), Inline: true},
			MessageField{Name: "Subject", Value: fallback(data.SubjectAddress, "-"), Inline: true},
			MessageField{Name: "Alert", Value: fallback(data.ID, "-"), Inline: true},
		)
		fields = append(fields, payloadFields(data.Payload)...)
	case events.DepositCredited:
		base.Title = fmt.Sprintf("Deposit Credited · %s", shortID(data.Address, shortIDLimit))
		base.Content = fmt.Sprintf("%s tokens credited", data.TokenAmount.String())
		base.Description = fmt.Sprintf("%d chips (+%d bonus) credited to %s.", data.ChipAmount, data.BonusAmount, data.Address)
		base.Color = colorSuccess
		fields = append(fields,
			MessageField{Name: "Tokens", Value: data.TokenAmount.String(), Inline: true},
			MessageField{Name: "Chips", Value: strconv.FormatInt(data.ChipAmount, 10), Inline: true},
			MessageField{Name: "Bonus", Value: strconv.FormatInt(data.BonusAmount, 10), Inline: true},
			MessageField{Name: "Tx", Value: fallback(data.TxHash, "-"), Inline: false},
		)
	case events.DepositFailed:
		base.Title = fmt.Sprintf("Deposit Failed · %s", shortID(data.Address, shortIDLimit))
		base.Content = fmt.Sprintf("deposit failed: %s", data.Reason)
		base.Description = fmt.Sprintf("Deposit of %s tokens failed: %s.", data.TokenAmount.String(), fallback(data.Reason, "unknown"))
		base.Color = colorWarn
		fields = append(fields,
			MessageField{Name: "Reason", Value: fallback(data.Reason, "-"), Inline: true},
			MessageField{Name: "Tx", Value: fallback(data.TxHash, "-"), Inline: false},
		)
	case events.WithdrawalRequested:
		base.Title = fmt.Sprintf("Withdrawal Requested · %s", shortID(data.Address, shortIDLimit))
		base.Content = fmt.Sprintf("%d chips requested", data.ChipAmount)
		base.Description = fmt.Sprintf("Withdrawal %s of %d chips (%s tokens).", data.ID, data.ChipAmount, data.TokenAmount.String())
		base.Color = colorInfo
		fields = append(fields,
			MessageField{Name: "Withdrawal", Value: data.ID, Inline: true},
			MessageField{Name: "Chips", Value: strconv.FormatInt(data.ChipAmount, 10), Inline: true},
		)
	case events.WithdrawalResolved:
		base.Title = fmt.Sprintf("Withdrawal %s · %s", titleCase(data.Status), shortID(data.Address, shortIDLimit))
		base.Content = fmt.Sprintf("withdrawal %s", data.Status)
		base.Description = fmt.Sprintf("Withdrawal %s of %d chips %s.", data.ID, data.ChipAmount, data.Status)
		base.Color = colorSuccess
		if data.Status != "completed" {
			base.Color = colorWarn
		}
		fields = append(fields,
			MessageField{Name: "Withdrawal", Value: data.ID, Inline: true},
			MessageField{Name: "Status", Value: data.Status, Inline: true},
			MessageField{Name: "Chips", Value: strconv.FormatInt(data.ChipAmount, 10), Inline: true},
		)
		if data.SettlementTxHash != "" {
			fields = append(fields, MessageField{Name: "Settlement", Value: data.SettlementTxHash, Inline: false})
		}
		if data.Reason != "" {
			fields = append(fields, MessageField{Name: "Reason", Value: data.Reason, Inline: true})
		}
	default:
		return FormattedMessage{}, false
	}

	base.Fields = fields
	return base, true
}

func severityColor(severity string) int {
	switch severity {
	case monitor.SeverityCritical:
		return colorCritical
	case monitor.SeverityHigh:
		return colorHigh
	case monitor.SeverityMedium:
		return colorWarn
	default:
		return colorInfo
	}
}

func payloadFields(payload map[string]any) []MessageField {
	if len(payload) == 0 {
		return nil
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]MessageField, 0, len(keys))
	for _, k := range keys {
		out = append(out, MessageField{Name: k, Value: trimText(fmt.Sprint(payload[k]), payloadValueLimit), Inline: true})
	}
	return out
}

func titleCase(v string) string {
	if v == "" {
		return v
	}
	return strings.ToUpper(v[:1]) + v[1:]
}

func trimText(v string, max int) string {
	if max <= 0 || len(v) <= max {
		return v
	}
	if max <= 3 {
		return v[:max]
	}
	return v[:max-3] + "..."
}

func shortID(v string, max int) string {
	if max <= 0 || len(v) <= max {
		return v
	}
	return v[:max]
}

func eventTimestamp(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func fallback(v, d string) string {
	if strings.TrimSpace(v) == "" {
		return d
	}
	return v
}
