package canonical

// Invoice is a validated, enriched order with computed monetary totals.
// The reconciliation invariant grandTotal == subtotal - discount + shipping +
// taxTotal holds within one minor currency unit for every Invoice produced by
// the Normalizer; a violation is a hard validation failure upstream.
type Invoice struct {
	Order

	// Subtotal is the sum of line totals
	Subtotal Money
	// TaxTotal is the sum of line tax amounts
	TaxTotal Money
	// GrandTotal is subtotal - discount + shipping + taxTotal
	GrandTotal Money
}
