package alerts

import (
	"fmt"
	"strings"

	"polymercado/pkg/types"
)

// Message is one formatted alert, ready for any channel driver.
type Message struct {
	Type     types.SignalType
	Severity int
	Subject  string
	Body     string
	Link     string
}

// Format renders a signal event into a channel-agnostic message. The body
// carries the principal numbers from the payload; everything else stays
// behind the deep link.
func Format(ev types.SignalEvent, baseURL string) Message {
	subject := fmt.Sprintf("[S%d] %s", ev.Severity, ev.Type)

	var lines []string
	switch ev.Type {
	case types.SignalLargeTakerTrade, types.SignalLargeNewWallet, types.SignalDormantReactivated:
		lines = append(lines,
			payloadLine(ev.Payload, "notional_usd", "notional $%v"),
			payloadLine(ev.Payload, "side", "side %v"),
			payloadLine(ev.Payload, "price", "price %v"),
			payloadLine(ev.Payload, "wallet", "wallet %v"),
			payloadLine(ev.Payload, "market_title", "market %v"),
		)
	case types.SignalArbBuyBoth:
		lines = append(lines,
			payloadLine(ev.Payload, "edge_at_q_max", "edge %v"),
			payloadLine(ev.Payload, "q_max", "size %v shares"),
			payloadLine(ev.Payload, "top_of_book_sum", "top-of-book sum %v"),
		)
	case types.SignalNewMarket:
		lines = append(lines,
			payloadLine(ev.Payload, "title", "market %v"),
			payloadLine(ev.Payload, "slug", "slug %v"),
		)
	}
	if ev.ConditionID != "" {
		lines = append(lines, fmt.Sprintf("condition %s", ev.ConditionID))
	}

	var kept []string
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}

	return Message{
		Type:     ev.Type,
		Severity: ev.Severity,
		Subject:  subject,
		Body:     strings.Join(kept, " | "),
		Link:     fmt.Sprintf("%s/signals/%d", strings.TrimRight(baseURL, "/"), ev.ID),
	}
}

func payloadLine(payload map[string]any, key, format string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf(format, v)
}
