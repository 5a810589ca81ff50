package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/welfare/contribution-ledger/ledger"
)

// Message is the JSON body published for a ledger event. Amount is a
// decimal string so consumers never see float rounding.
type Message struct {
	Type       string          `json:"type"`
	MemberID   string          `json:"member_id,omitempty"`
	Month      string          `json:"month,omitempty"`
	PaymentID  string          `json:"payment_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	ActionBy   string          `json:"action_by,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewMessage(e ledger.Event) Message {
	return Message{
		Type:       string(e.Type),
		MemberID:   string(e.MemberID),
		Month:      string(e.Month),
		PaymentID:  string(e.PaymentID),
		Amount:     e.Amount,
		ActionBy:   e.ActionBy,
		OccurredAt: e.OccurredAt.UTC(),
	}
}

func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MessageFromJSON(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
