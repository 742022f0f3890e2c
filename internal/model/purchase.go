package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus tracks a purchase through payment.
type PurchaseStatus string

const (
	PurchasePending  PurchaseStatus = "pending"
	PurchasePaid     PurchaseStatus = "paid"
	PurchaseFailed   PurchaseStatus = "failed"
	PurchaseRefunded PurchaseStatus = "refunded"
)

// Product types a purchase can be for.
var ValidProductTypes = map[string]bool{
	"credits":      true,
	"analysis":     true,
	"subscription": true,
}

// Payment methods accepted on a purchase. Empty means not chosen yet.
var ValidPaymentMethods = map[string]bool{
	"":       true,
	"wechat": true,
	"alipay": true,
}

// Purchase is an order for credits. It is created pending and credits the
// buyer's ledger once, when payment completes.
type Purchase struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	ProductType   string          `json:"productType"`
	ProductID     string          `json:"productId,omitempty"`
	ProductName   string          `json:"productName"`
	Credits       int64           `json:"credits"`
	Price         decimal.Decimal `json:"price"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Status        PurchaseStatus  `json:"status"`
	PaymentRef    *string         `json:"paymentRef,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	PaidAt        *time.Time      `json:"paidAt,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// PurchaseRequest is the API request body for a new purchase.
type PurchaseRequest struct {
	ProductType   string          `json:"product_type"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Credits       int64           `json:"credits"`
	Price         decimal.Decimal `json:"price"`
	PaymentMethod string          `json:"payment_method"`
}

// CompletePurchaseRequest is the admin API request body confirming payment.
type CompletePurchaseRequest struct {
	PaymentRef string `json:"payment_ref"`
}
