package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/invoicepay/pkg/optional"
)

// PaymentPatch is a partial update. Unset fields are left untouched; pointer
// fields set to nil clear the stored value.
type PaymentPatch struct {
	Amount        optional.Field[decimal.Decimal] `json:"amount"`
	Method        optional.Field[string]          `json:"method"`
	PaymentDate   optional.Field[time.Time]       `json:"payment_date"`
	Reference     optional.Field[*string]         `json:"reference"`
	Description   optional.Field[*string]         `json:"description"`
	Status        optional.Field[Status]          `json:"status"`
	Gateway       optional.Field[*string]         `json:"gateway"`
	TransactionID optional.Field[*string]         `json:"transaction_id"`
	RefundReason  optional.Field[*string]         `json:"refund_reason"`
}

func (p PaymentPatch) IsEmpty() bool {
	return !p.Amount.IsSet() &&
		!p.Method.IsSet() &&
		!p.PaymentDate.IsSet() &&
		!p.Reference.IsSet() &&
		!p.Description.IsSet() &&
		!p.Status.IsSet() &&
		!p.Gateway.IsSet() &&
		!p.TransactionID.IsSet() &&
		!p.RefundReason.IsSet()
}
