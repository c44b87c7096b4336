package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
)

const timeLayout = "02 Jan 2006 15:04 MST"

func PaymentCreated(p *models.Payment, planName, userEmail string) Message {
	return Message{Text: fmt.Sprintf(
		"*New payment pending*\nRef: %s\nUser: %s\nPlan: %s\nTransfer: %s\nExpires: %s",
		p.Reference, userEmail, planName, formatAmount(p.TotalAmount), p.ExpiredAt.Format(timeLayout),
	)}
}

func PaymentVerified(p *models.Payment, sub *models.Subscription) Message {
	text := fmt.Sprintf("*Payment verified*\nRef: %s\nAmount: %s\nMethod: %s",
		p.Reference, formatAmount(p.TotalAmount), p.VerificationMethod)
	if sub != nil {
		text += "\nActive until: " + sub.EndDate.Format(timeLayout)
	}
	return Message{Text: text}
}

func PaymentRejected(p *models.Payment) Message {
	text := fmt.Sprintf("*Payment rejected*\nRef: %s\nAmount: %s", p.Reference, formatAmount(p.TotalAmount))
	if p.Note != "" {
		text += "\nNote: " + p.Note
	}
	return Message{Text: text}
}

func PaymentsExpired(count int64, at time.Time) Message {
	return Message{Text: fmt.Sprintf("*Payments expired*\n%d pending payment(s) passed their deadline at %s", count, at.Format(timeLayout))}
}

func OrderFulfilled(orderNumber, itemName string, keyCount int) Message {
	return Message{Text: fmt.Sprintf("*Order processed*\nOrder: %s\nItem: %s\nLicenses: %d", orderNumber, itemName, keyCount)}
}

func OrderCanceled(orderNumber string, released int) Message {
	return Message{Text: fmt.Sprintf("*Order canceled*\nOrder: %s\nLicenses returned: %d", orderNumber, released)}
}

// formatAmount renders rupiah with dot thousands separators: Rp 100.123
func formatAmount(amount int64) string {
	s := fmt.Sprintf("%d", amount)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "Rp -" + b.String()
	}
	return "Rp " + b.String()
}
