package domain

import (
	"github.com/shopspring/decimal"
)

// DeliveryStatus is the carrier-reported state of the shipment.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryFailed    DeliveryStatus = "failed"
)

// PaymentMethod is the tender used for the original order.
type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "credit_card"
	PaymentPayPal     PaymentMethod = "paypal"
	PaymentApplePay   PaymentMethod = "apple_pay"
	PaymentShopPay    PaymentMethod = "shop_pay"
	PaymentOther      PaymentMethod = "other"
)

// MessageSentiment is an optional upstream label attached to a customer message.
type MessageSentiment string

const (
	SentimentPositive    MessageSentiment = "positive"
	SentimentNeutral     MessageSentiment = "neutral"
	SentimentNegative    MessageSentiment = "negative"
	SentimentThreatening MessageSentiment = "threatening"
)

// SeasonalContext describes the sales period the order fell in.
type SeasonalContext string

const (
	SeasonHoliday     SeasonalContext = "holiday"
	SeasonBlackFriday SeasonalContext = "black_friday"
	SeasonRegular     SeasonalContext = "regular"
)

// RefundRequest is the incoming refund request to be assessed.
// It is treated as immutable once received.
type RefundRequest struct {
	// Order & refund details
	OrderNumber       string          `json:"orderNumber"`
	RefundAmount      decimal.Decimal `json:"refundAmount"`
	OrderTotal        decimal.Decimal `json:"orderTotal"`
	RefundReason      string          `json:"refundReason"`
	CustomerNote      string          `json:"customerNote,omitempty"`
	OrderDate         Timestamp       `json:"orderDate"`
	RefundRequestDate Timestamp       `json:"refundRequestDate"`

	// Products
	ProductNames      []string          `json:"productNames"`
	ProductCategories []string          `json:"productCategories,omitempty"`
	ProductImages     []string          `json:"productImages,omitempty"`
	ProductPrices     []decimal.Decimal `json:"productPrices,omitempty"`
	IsDigitalProduct  bool              `json:"isDigitalProduct,omitempty"`

	// Customer
	CustomerEmail   string          `json:"customerEmail"`
	CustomerName    string          `json:"customerName"`
	CustomerHistory CustomerHistory `json:"customerHistory"`

	// Shipping & location
	ShippingAddress   *Address       `json:"shippingAddress,omitempty"`
	BillingAddress    *Address       `json:"billingAddress,omitempty"`
	IsAddressMismatch bool           `json:"isAddressMismatch,omitempty"`
	TrackingNumber    string         `json:"trackingNumber,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"deliveryStatus,omitempty"`
	DeliveryDate      *Timestamp     `json:"deliveryDate,omitempty"`

	// Payment
	PaymentMethod    PaymentMethod `json:"paymentMethod,omitempty"`
	IsChargebackRisk bool          `json:"isChargebackRisk,omitempty"`

	// MerchantPolicy lets a caller submit policy alongside the request.
	// The engine never reads it; callers resolve policy and pass it explicitly.
	MerchantPolicy *MerchantPolicy `json:"merchantPolicy,omitempty"`

	// Additional context
	CustomerMessages      []CustomerMessage `json:"customerMessages,omitempty"`
	PreviousRefundReasons []string          `json:"previousRefundReasons,omitempty"`
	SeasonalContext       SeasonalContext   `json:"seasonalContext,omitempty"`
}

// CustomerHistory summarizes the customer's past behaviour with the merchant.
type CustomerHistory struct {
	TotalOrders   int             `json:"total_orders"`
	TotalRefunds  int             `json:"total_refunds"`
	RefundRate    float64         `json:"refund_rate"`
	AvgOrderValue decimal.Decimal `json:"avg_order_value"`
	// AccountAgeDays is nil when the storefront does not know the account age.
	AccountAgeDays *int            `json:"account_age_days"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	LastOrderDate  *Timestamp      `json:"last_order_date,omitempty"`
	EmailVerified  bool            `json:"email_verified"`
	PhoneVerified  bool            `json:"phone_verified"`

	// RecentRefunds counts refund requests in the trailing 60 days, when known.
	RecentRefunds *int `json:"recent_refunds_60d,omitempty"`
}

// Address is a coarse postal address.
type Address struct {
	Country string `json:"country"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
}

// CustomerMessage is one message from the customer's support thread.
type CustomerMessage struct {
	Timestamp Timestamp        `json:"timestamp"`
	Message   string           `json:"message"`
	Sentiment MessageSentiment `json:"sentiment,omitempty"`
}

// Clone returns a deep copy so enrichment never mutates the caller's request.
func (r *RefundRequest) Clone() *RefundRequest {
	c := *r
	c.ProductNames = append([]string(nil), r.ProductNames...)
	c.ProductCategories = append([]string(nil), r.ProductCategories...)
	c.ProductImages = append([]string(nil), r.ProductImages...)
	c.ProductPrices = append([]decimal.Decimal(nil), r.ProductPrices...)
	c.CustomerMessages = append([]CustomerMessage(nil), r.CustomerMessages...)
	c.PreviousRefundReasons = append([]string(nil), r.PreviousRefundReasons...)
	if r.ShippingAddress != nil {
		a := *r.ShippingAddress
		c.ShippingAddress = &a
	}
	if r.BillingAddress != nil {
		a := *r.BillingAddress
		c.BillingAddress = &a
	}
	if r.DeliveryDate != nil {
		d := *r.DeliveryDate
		c.DeliveryDate = &d
	}
	if r.CustomerHistory.AccountAgeDays != nil {
		v := *r.CustomerHistory.AccountAgeDays
		c.CustomerHistory.AccountAgeDays = &v
	}
	if r.CustomerHistory.RecentRefunds != nil {
		v := *r.CustomerHistory.RecentRefunds
		c.CustomerHistory.RecentRefunds = &v
	}
	if r.CustomerHistory.LastOrderDate != nil {
		v := *r.CustomerHistory.LastOrderDate
		c.CustomerHistory.LastOrderDate = &v
	}
	if r.MerchantPolicy != nil {
		p := r.MerchantPolicy.Clone()
		c.MerchantPolicy = &p
	}
	return &c
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int {
	return &v
}
