package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"copytrade-core/internal/trade"
	"copytrade-core/pkg/exchanges/common"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram sends pipeline notifications to a Telegram chat, optionally
// into a forum topic thread. A notifier with missing credentials is
// disabled and drops every message silently; the pipeline never depends
// on delivery.
type Telegram struct {
	botToken string
	chatID   string
	threadID int

	apiBase string
	client  *http.Client
}

// NewTelegram builds a notifier. Empty botToken or chatID disables it.
func NewTelegram(botToken, chatID string, threadID int) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		threadID: threadID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether messages will actually be delivered.
func (t *Telegram) Enabled() bool {
	return t.botToken != "" && t.chatID != ""
}

func (t *Telegram) NotifyOrderOpened(n trade.OrderNotice) {
	icon := "🟢"
	if n.TradeType == trade.TypeShort {
		icon = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s opened*\n", icon, strings.ToUpper(string(n.TradeType)))
	fmt.Fprintf(&b, "Account: `%d`\n", n.AccountIndex)
	fmt.Fprintf(&b, "Market: `%s`\n", n.Symbol)
	fmt.Fprintf(&b, "Size: `%v`\n", n.BaseAmount)
	fmt.Fprintf(&b, "Quote: `%.2f`\n", n.QuoteAmount)
	fmt.Fprintf(&b, "Price: `%.6g`", n.Price)
	appendStateLines(&b, n.State, n.MarketID)
	t.send(b.String())
}

func (t *Telegram) NotifyOrderClosed(n trade.OrderNotice) {
	var b strings.Builder
	fmt.Fprintf(&b, "⚪ *Position closed*\n")
	fmt.Fprintf(&b, "Account: `%d`\n", n.AccountIndex)
	fmt.Fprintf(&b, "Market: `%s`\n", n.Symbol)
	fmt.Fprintf(&b, "Size: `%v`\n", n.BaseAmount)
	fmt.Fprintf(&b, "Price: `%.6g`", n.Price)
	appendStateLines(&b, n.State, n.MarketID)
	t.send(b.String())
}

func (t *Telegram) NotifyWarning(title, message string, context map[string]any) {
	t.send(alertText("⚠️", title, message, context))
}

func (t *Telegram) NotifyError(title, message string, context map[string]any) {
	t.send(alertText("🚨", title, message, context))
}

func alertText(icon, title, message string, context map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n%s", icon, EscapeMarkdown(title), EscapeMarkdown(message))

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: `%v`", EscapeMarkdown(k), context[k])
	}
	return b.String()
}

// appendStateLines adds the post-fill balance and realized pnl when a
// fresh snapshot is available.
func appendStateLines(b *strings.Builder, state *common.AccountState, marketID int) {
	if state == nil {
		return
	}
	fmt.Fprintf(b, "\nBalance: `%.2f`", state.AvailableBalance)
	if pos := state.PositionFor(marketID); pos != nil {
		fmt.Fprintf(b, "\nRealized PnL: `%.2f`", pos.RealizedPnL)
	}
}

type sendMessageRequest struct {
	ChatID          string `json:"chat_id"`
	Text            string `json:"text"`
	ParseMode       string `json:"parse_mode"`
	MessageThreadID int    `json:"message_thread_id,omitempty"`
}

// send posts one message. Delivery failures are logged and swallowed;
// notification loss must never affect trade execution.
func (t *Telegram) send(text string) {
	if !t.Enabled() {
		return
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:          t.chatID,
		Text:            text,
		ParseMode:       "Markdown",
		MessageThreadID: t.threadID,
	})
	if err != nil {
		log.Printf("notify: marshal telegram message: %v", err)
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: telegram send failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("notify: telegram send returned status %d", resp.StatusCode)
	}
}

// EscapeMarkdown neutralizes characters that Telegram's Markdown parser
// treats as formatting. Error strings routinely contain underscores and
// brackets; an unbalanced entity makes Telegram reject the whole message.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '_', '*', '`', '[', ']':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ trade.Notifier = (*Telegram)(nil)
