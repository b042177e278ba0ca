package ubl

import (
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/einvoice/connector/internal/domain/canonical"
	"github.com/einvoice/connector/internal/domain/connector"
)

// minorUnit is the reconciliation tolerance (one minor currency unit)
var minorUnit = decimal.NewFromFloat(0.01)

// Transformer converts canonical invoices into UBL BIS 3.0 documents.
// The transformation is deterministic: transforming the same invoice twice
// yields byte-identical output.
type Transformer struct {
	invoiceTypeCode string
}

// NewTransformer creates a Transformer producing commercial invoices (type 380)
func NewTransformer() *Transformer {
	return &Transformer{invoiceTypeCode: "380"}
}

// taxGroup accumulates full-precision amounts for one distinct tax rate
type taxGroup struct {
	rate    decimal.Decimal
	taxable decimal.Decimal
	tax     decimal.Decimal
}

// Transform builds the UBL document for a canonical invoice. All intermediate
// math retains full precision; amounts are rounded half-up to 2 decimals only
// when written into the document. If the rounded tax subtotals no longer
// reconcile with the monetary totals within one minor unit, transformation
// fails rather than emitting an inconsistent document.
func (t *Transformer) Transform(inv *canonical.Invoice) (*Document, error) {
	currency := string(inv.Currency)

	groups := groupByTaxRate(inv.Lines)

	taxExclusive := inv.Subtotal.Amount().
		Sub(inv.Discount.Amount()).
		Add(inv.Shipping.Amount())
	taxInclusive := taxExclusive.Add(inv.TaxTotal.Amount())

	subtotals := make([]TaxSubtotal, 0, len(groups))
	roundedTaxSum := decimal.Zero
	for _, g := range groups {
		roundedTax := g.tax.Round(2)
		roundedTaxSum = roundedTaxSum.Add(roundedTax)
		subtotals = append(subtotals, TaxSubtotal{
			TaxableAmount: amount(g.taxable, currency),
			TaxAmount:     amount(g.tax, currency),
			TaxCategory: TaxCategory{
				ID:      categoryFor(g.rate),
				Percent: g.rate.StringFixed(2),
			},
		})
	}

	// The rounded per-rate tax amounts must still explain the difference
	// between the inclusive and exclusive totals.
	derived := taxInclusive.Round(2).Sub(taxExclusive.Round(2))
	if derived.Sub(roundedTaxSum).Abs().GreaterThan(minorUnit) {
		return nil, &connector.TransformationError{
			Message:  "tax subtotals do not reconcile with monetary totals",
			Expected: derived.StringFixed(2),
			Actual:   roundedTaxSum.StringFixed(2),
		}
	}

	lines := make([]InvoiceLine, 0, len(inv.Lines))
	for i, li := range inv.Lines {
		lines = append(lines, InvoiceLine{
			ID:                  strconv.Itoa(i + 1),
			InvoicedQuantity:    li.Quantity.String(),
			LineExtensionAmount: amount(li.LineTotal.Amount(), currency),
			ItemName:            li.Description,
			TaxPercent:          li.TaxRate.StringFixed(2),
			TaxCategoryID:       categoryFor(li.TaxRate),
			PriceAmount:         amount(li.UnitPrice.Amount(), currency),
		})
	}

	doc := &Document{
		CustomizationID:         CustomizationID,
		ProfileID:               ProfileID,
		ID:                      inv.Number,
		IssueDate:               inv.IssueDate.Format("2006-01-02"),
		InvoiceTypeCode:         t.invoiceTypeCode,
		DocumentCurrencyCode:    currency,
		AccountingSupplierParty: toParty(inv.Supplier),
		AccountingCustomerParty: toParty(inv.Customer),
		TaxTotal: []TaxTotal{
			{
				TaxAmount:   amount(inv.TaxTotal.Amount(), currency),
				TaxSubtotal: subtotals,
			},
		},
		LegalMonetaryTotal: LegalMonetaryTotal{
			LineExtensionAmount: amount(inv.Subtotal.Amount(), currency),
			TaxExclusiveAmount:  amount(taxExclusive, currency),
			TaxInclusiveAmount:  amount(taxInclusive, currency),
			AllowanceTotal:      amount(inv.Discount.Amount(), currency),
			ChargeTotal:         amount(inv.Shipping.Amount(), currency),
			PayableAmount:       amount(inv.GrandTotal.Amount(), currency),
		},
		InvoiceLine: lines,
	}

	if doc.ID == "" {
		doc.ID = inv.ExternalID
	}

	return doc, nil
}

// groupByTaxRate builds one tax group per distinct rate, ordered by rate
// descending for stable output
func groupByTaxRate(lines []canonical.LineItem) []taxGroup {
	byRate := make(map[string]*taxGroup)
	for _, li := range lines {
		key := li.TaxRate.String()
		g, ok := byRate[key]
		if !ok {
			g = &taxGroup{rate: li.TaxRate}
			byRate[key] = g
		}
		g.taxable = g.taxable.Add(li.LineTotal.Amount())
		g.tax = g.tax.Add(li.TaxAmount.Amount())
	}

	groups := make([]taxGroup, 0, len(byRate))
	for _, g := range byRate {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].rate.GreaterThan(groups[j].rate)
	})
	return groups
}

// categoryFor classifies a tax rate: ZeroRated when the rate is zero,
// Standard otherwise
func categoryFor(rate decimal.Decimal) string {
	if rate.IsZero() {
		return TaxCategoryZeroRated
	}
	return TaxCategoryStandard
}

// amount rounds a full-precision value half-up to 2 decimals for serialization
func amount(v decimal.Decimal, currency string) Amount {
	return Amount{
		CurrencyID: currency,
		Value:      v.Round(2).StringFixed(2),
	}
}

// toParty converts a canonical party into its UBL projection
func toParty(p canonical.Party) Party {
	return Party{
		Name:         p.Name,
		StreetName:   p.Address,
		CompanyTaxID: p.TaxID,
		ContactEmail: p.Email,
		ContactPhone: p.Phone,
	}
}
