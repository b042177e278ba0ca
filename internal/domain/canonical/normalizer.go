package canonical

import (
	"github.com/shopspring/decimal"
)

// invoiceEpsilon is the tolerance for the invoice reconciliation invariant
// (one minor currency unit)
var invoiceEpsilon = decimal.NewFromFloat(0.01)

// DefaultVATRate is the standard VAT rate applied when an order carries no
// line-level tax information (7.5%, the Nigerian standard rate)
var DefaultVATRate = decimal.NewFromFloat(7.5)

// Normalizer validates and enriches canonical orders into invoices.
// One Normalizer is constructed per connection and carries the connection's
// currency and tax defaults.
type Normalizer struct {
	defaultCurrency Currency
	defaultVATRate  decimal.Decimal
}

// NormalizerOption is a functional option for Normalizer
type NormalizerOption func(*Normalizer)

// WithDefaultCurrency sets the currency applied to orders without one
func WithDefaultCurrency(currency Currency) NormalizerOption {
	return func(n *Normalizer) {
		n.defaultCurrency = currency
	}
}

// WithDefaultVATRate sets the VAT rate inferred when no line-level tax is present
func WithDefaultVATRate(rate decimal.Decimal) NormalizerOption {
	return func(n *Normalizer) {
		n.defaultVATRate = rate
	}
}

// NewNormalizer creates a Normalizer with the system defaults (NGN, 7.5% VAT)
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		defaultCurrency: DefaultCurrency,
		defaultVATRate:  DefaultVATRate,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates an order and computes its monetary totals.
// Explicit line tax always wins over inferred tax: the default VAT rate is
// applied only when no line carries tax information, so an order of explicitly
// zero-rated lines stays untaxed. Orders with zero line items
// or broken arithmetic are rejected, never silently corrected.
func (n *Normalizer) Normalize(order Order) (*Invoice, error) {
	if order.ExternalID == "" {
		return nil, NewValidationError("externalId", "is required")
	}
	if len(order.Lines) == 0 {
		return nil, NewValidationError("lines", "order has no line items")
	}

	if order.Currency == "" {
		order.Currency = n.defaultCurrency
	}
	currency := order.Currency

	if order.Shipping.Currency() == "" {
		order.Shipping = Zero(currency)
	}
	if order.Discount.Currency() == "" {
		order.Discount = Zero(currency)
	}
	if order.Shipping.Currency() != currency {
		return nil, NewValidationError("shipping", "currency does not match order currency")
	}
	if order.Discount.Currency() != currency {
		return nil, NewValidationError("discount", "currency does not match order currency")
	}

	// Work on a copy so the caller's order is never mutated
	order.Lines = append([]LineItem(nil), order.Lines...)

	subtotal := Zero(currency)
	taxTotal := Zero(currency)
	hasLineTax := false

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.UnitPrice.Currency() != currency {
			return nil, NewValidationError("lines.unitPrice", "currency does not match order currency")
		}
		if line.TaxAmount.Currency() == "" {
			line.TaxAmount = Zero(currency)
		}
		if err := line.Validate(); err != nil {
			return nil, err
		}

		subtotal = subtotal.MustAdd(line.LineTotal)
		taxTotal = taxTotal.MustAdd(line.TaxAmount)
		if line.TaxPresent || line.TaxRate.IsPositive() || line.TaxAmount.IsPositive() {
			hasLineTax = true
		}
	}

	// No line-level tax anywhere: infer from the default VAT rate and
	// distribute it onto the lines so the invoice stays internally
	// consistent for the UBL projection
	if !hasLineTax {
		taxTotal = Zero(currency)
		for i := range order.Lines {
			line := &order.Lines[i]
			line.TaxRate = n.defaultVATRate
			line.TaxAmount = line.LineTotal.CalculatePercentage(n.defaultVATRate)
			taxTotal = taxTotal.MustAdd(line.TaxAmount)
		}
	}

	grandTotal := subtotal.
		MustSubtract(order.Discount).
		MustAdd(order.Shipping).
		MustAdd(taxTotal)

	invoice := &Invoice{
		Order:      order,
		Subtotal:   subtotal,
		TaxTotal:   taxTotal,
		GrandTotal: grandTotal,
	}

	if err := verifyReconciliation(invoice); err != nil {
		return nil, err
	}

	return invoice, nil
}

// verifyReconciliation enforces
// grandTotal == subtotal - discount + shipping + taxTotal within epsilon
func verifyReconciliation(inv *Invoice) error {
	expected := inv.Subtotal.Amount().
		Sub(inv.Discount.Amount()).
		Add(inv.Shipping.Amount()).
		Add(inv.TaxTotal.Amount())

	diff := expected.Sub(inv.GrandTotal.Amount()).Abs()
	if diff.GreaterThan(invoiceEpsilon) {
		return NewValidationError("grandTotal", "totals do not reconcile")
	}
	return nil
}
