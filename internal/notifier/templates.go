package notifier

import (
	"fmt"

	"ecom-coordinator/internal/models"
)

// Message is one notification to attempt: who to reach and what to say.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// buildMessage maps an event to its notification. A zero-subject result
// means the event type carries no notification and should be acked without
// a record.
func buildMessage(event *models.Event, opsEmail string) Message {
	email := event.StringData("email")
	orderNumber := event.StringData("orderNumber")

	switch event.EventType {
	case models.EventOrderCreated:
		return Message{
			Recipient: email,
			Subject:   "Order Placed - " + orderNumber,
			Body: buildHTML("Order placed!",
				fmt.Sprintf("Your order <strong>%s</strong> has been placed successfully.", orderNumber),
				fmt.Sprintf("Total: %v", event.Data["totalAmount"]),
				"We'll notify you when it's confirmed."),
		}

	case models.EventOrderConfirmed:
		return Message{
			Recipient: email,
			Subject:   "Order Confirmed - " + orderNumber,
			Body: buildHTML("Your order is confirmed!",
				"We're preparing your order for shipment.", "", ""),
		}

	case models.EventOrderShipped:
		return Message{
			Recipient: email,
			Subject:   "Order Shipped - " + orderNumber,
			Body: buildHTML("Your order has been shipped!",
				fmt.Sprintf("Order <strong>%s</strong> is on its way.", orderNumber),
				"", "You'll receive tracking details shortly."),
		}

	case models.EventOrderDelivered:
		return Message{
			Recipient: email,
			Subject:   "Order Delivered - " + orderNumber,
			Body: buildHTML("Delivered!",
				fmt.Sprintf("Your order <strong>%s</strong> has been delivered.", orderNumber),
				"", "Thank you for shopping with us!"),
		}

	case models.EventOrderCancelled:
		return Message{
			Recipient: email,
			Subject:   "Order Cancelled - " + orderNumber,
			Body: buildHTML("Order Cancelled",
				fmt.Sprintf("Your order <strong>%s</strong> has been cancelled.", orderNumber),
				"", "If you paid, your refund will be processed within 5-7 business days."),
		}

	case models.EventPaymentSuccess:
		return Message{
			Recipient: email,
			Subject:   "Payment Received",
			Body: buildHTML("Payment successful!",
				fmt.Sprintf("We've received your payment of <strong>%v</strong>.", event.Data["amount"]),
				"", "Your order is being processed."),
		}

	case models.EventPaymentFailed:
		return Message{
			Recipient: email,
			Subject:   "Payment Failed",
			Body: buildHTML("Payment failed",
				"Your payment could not be processed.", "",
				"Please try again or use a different payment method."),
		}

	case models.EventLowStockAlert:
		variantID := event.StringData("variantId")
		return Message{
			Recipient: opsEmail,
			Subject:   "Low Stock Alert - Variant " + variantID,
			Body: buildHTML("Low stock alert",
				fmt.Sprintf("Variant <strong>%s</strong> has only <strong>%v</strong> units left.",
					variantID, event.Data["availableStock"]),
				"", "Please restock."),
		}
	}

	return Message{}
}

func buildHTML(heading, line1, line2, line3 string) string {
	return fmt.Sprintf(`<html>
<body style="font-family:Arial,sans-serif;padding:20px;background:#f9f9f9;">
  <div style="max-width:600px;margin:0 auto;background:white;padding:30px;border-radius:10px;">
    <h2 style="color:#333;">%s</h2>
    <p style="color:#555;font-size:16px;">%s</p>
    <p style="color:#555;font-size:16px;font-weight:bold;">%s</p>
    <p style="color:#888;font-size:14px;">%s</p>
  </div>
</body>
</html>`, heading, line1, line2, line3)
}
