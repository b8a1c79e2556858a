// Package notify delivers one-time codes to parties.  Delivery itself
// (SMS, email) lives outside Gatekeeper; these notifiers hand a code to
// whatever does the sending.
package notify

import (
	"context"
	"log"
	"strings"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/service"
)

// LogNotifier writes deliveries to a logger.  Intended for dev, where
// there is no sender to talk to.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(_ context.Context, d service.Delivery) error {
	n.logger.Printf("otp %s for %s (%s): code %s, expires %s",
		d.ChallengeID, Mask(d.Identifier), d.Purpose, d.Code, d.ExpiresAt.UTC().Format("15:04:05"))
	return nil
}

// Mask hides most of an identifier for logs: "ana@example.com" becomes
// "a**@example.com" and "+15550100" becomes "*****0100".
func Mask(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		local := id[:at]
		if len(local) <= 1 {
			return local + id[at:]
		}
		return local[:1] + strings.Repeat("*", len(local)-1) + id[at:]
	}
	const keep = 4
	if len(id) <= keep {
		return id
	}
	return strings.Repeat("*", len(id)-keep) + id[len(id)-keep:]
}
