package notify

import (
	"fmt"
	"html"
	"time"
)

// Email is a rendered subject and HTML body.
type Email struct {
	Subject string
	HTML    string
}

func SubscriptionCreated() Email {
	return Email{"Subscription Created", "<p>Your subscription has been successfully created.</p>"}
}

func CheckoutPaymentFailed() Email {
	return Email{"Payment Failed", "<p>Your subscription payment failed. Please try again.</p>"}
}

func PaymentSucceeded() Email {
	return Email{"Payment Succeeded", "<p>Your payment has been successfully processed.</p>"}
}

func PaymentFailed() Email {
	return Email{"Payment Failed", "<p>Your payment has failed. Please try again or update your payment method.</p>"}
}

func InvoicePaid() Email {
	return Email{"Invoice Paid", "<p>Your invoice has been paid successfully.</p>"}
}

func InvoicePaymentFailed() Email {
	return Email{"Invoice Payment Failed", "<p>Your invoice payment has failed. Please update your payment method.</p>"}
}

func SubscriptionUpdated() Email {
	return Email{"Subscription Updated", "<p>Your subscription has been updated.</p>"}
}

func SubscriptionCanceled() Email {
	return Email{"Subscription Canceled", "<p>Your subscription has been canceled.</p>"}
}

func RefundUpdated(refundID string) Email {
	return Email{"Refund Updated", fmt.Sprintf("<p>Your refund has been updated. Refund ID: %s</p>", html.EscapeString(refundID))}
}

func Reminder(periodEnd time.Time) Email {
	return Email{
		Subject: "Subscription Reminder",
		HTML: fmt.Sprintf("<p>Your subscription will end on %s.</p>\n<p>Please renew to continue enjoying our service.</p>",
			periodEnd.UTC().Format("Mon Jan 02 2006")),
	}
}
