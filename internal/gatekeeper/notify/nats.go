package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
)

// DefaultSubject is where code deliveries are requested.
const DefaultSubject = "gatekeeper.notify.otp"

// DeliveryRequest is the message body sent to the delivery subject.
type DeliveryRequest struct {
	ChallengeID string    `json:"challenge_id"`
	Identifier  string    `json:"identifier"`
	Purpose     string    `json:"purpose"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DeliveryReply is what a sender answers with.  An empty Error means the
// code went out.
type DeliveryReply struct {
	Error string `json:"error,omitempty"`
}

// ErrNoSender is returned when nobody is subscribed to the subject.
var ErrNoSender = errors.New("notify: no sender listening")

// NATSNotifier asks an external sender to deliver each code via NATS
// request/reply and waits for its acknowledgement.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSNotifier connects to url.  An empty subject uses DefaultSubject
// and a zero timeout waits two seconds for each reply.
func NewNATSNotifier(url, subject string, timeout time.Duration, opts ...nats.Option) (*NATSNotifier, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	return newNATSNotifier(conn, subject, timeout), nil
}

func newNATSNotifier(conn *nats.Conn, subject string, timeout time.Duration) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &NATSNotifier{conn: conn, subject: subject, timeout: timeout}
}

// Deliver sends one request and returns an error when the sender is
// missing, slow, or reports a failure.  The OTP service retries these.
func (n *NATSNotifier) Deliver(ctx context.Context, d service.Delivery) error {
	body, err := json.Marshal(DeliveryRequest{
		ChallengeID: d.ChallengeID,
		Identifier:  d.Identifier,
		Purpose:     d.Purpose,
		Code:        d.Code,
		ExpiresAt:   d.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	msg, err := n.conn.RequestWithContext(ctx, n.subject, body)
	if errors.Is(err, nats.ErrNoResponders) {
		return ErrNoSender
	}
	if err != nil {
		return fmt.Errorf("notify: request %s: %w", n.subject, err)
	}

	var reply DeliveryReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("notify: bad reply: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("notify: sender: %s", reply.Error)
	}
	return nil
}

func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}
