// Package ubl models the UBL BIS 3.0 invoice structure and the deterministic
// transformation from canonical invoices into it.
package ubl

import "encoding/xml"

// Tax category identifiers per UBL BIS 3.0
const (
	// TaxCategoryStandard is the standard-rate VAT category
	TaxCategoryStandard = "S"
	// TaxCategoryZeroRated is the zero-rated VAT category
	TaxCategoryZeroRated = "Z"
)

// CustomizationID is the BIS Billing 3.0 customization identifier
const CustomizationID = "urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0"

// ProfileID is the BIS Billing 3.0 profile identifier
const ProfileID = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"

// Amount is a monetary value rendered with its currency attribute.
// Values are already rounded half-up to 2 decimals when the document is built.
type Amount struct {
	CurrencyID string `xml:"currencyID,attr"`
	Value      string `xml:",chardata"`
}

// Party represents an accounting party (supplier or customer)
type Party struct {
	Name         string `xml:"PartyName>Name"`
	StreetName   string `xml:"PostalAddress>StreetName,omitempty"`
	CompanyTaxID string `xml:"PartyTaxScheme>CompanyID,omitempty"`
	ContactEmail string `xml:"Contact>ElectronicMail,omitempty"`
	ContactPhone string `xml:"Contact>Telephone,omitempty"`
}

// TaxCategory classifies a tax subtotal
type TaxCategory struct {
	ID      string `xml:"ID"`
	Percent string `xml:"Percent"`
}

// TaxSubtotal is one per distinct tax rate on the invoice
type TaxSubtotal struct {
	TaxableAmount Amount      `xml:"TaxableAmount"`
	TaxAmount     Amount      `xml:"TaxAmount"`
	TaxCategory   TaxCategory `xml:"TaxCategory"`
}

// TaxTotal carries the invoice tax total and its per-rate breakdown
type TaxTotal struct {
	TaxAmount   Amount        `xml:"TaxAmount"`
	TaxSubtotal []TaxSubtotal `xml:"TaxSubtotal"`
}

// LegalMonetaryTotal carries the invoice-level monetary totals
type LegalMonetaryTotal struct {
	LineExtensionAmount Amount `xml:"LineExtensionAmount"`
	TaxExclusiveAmount  Amount `xml:"TaxExclusiveAmount"`
	TaxInclusiveAmount  Amount `xml:"TaxInclusiveAmount"`
	AllowanceTotal      Amount `xml:"AllowanceTotalAmount"`
	ChargeTotal         Amount `xml:"ChargeTotalAmount"`
	PayableAmount       Amount `xml:"PayableAmount"`
}

// InvoiceLine is one billable line of the invoice
type InvoiceLine struct {
	ID                  string `xml:"ID"`
	InvoicedQuantity    string `xml:"InvoicedQuantity"`
	LineExtensionAmount Amount `xml:"LineExtensionAmount"`
	ItemName            string `xml:"Item>Name"`
	TaxPercent          string `xml:"Item>ClassifiedTaxCategory>Percent"`
	TaxCategoryID       string `xml:"Item>ClassifiedTaxCategory>ID"`
	PriceAmount         Amount `xml:"Price>PriceAmount"`
}

// Document is a UBL BIS 3.0 invoice document
type Document struct {
	XMLName                 xml.Name           `xml:"Invoice"`
	CustomizationID         string             `xml:"CustomizationID"`
	ProfileID               string             `xml:"ProfileID"`
	ID                      string             `xml:"ID"`
	IssueDate               string             `xml:"IssueDate"`
	InvoiceTypeCode         string             `xml:"InvoiceTypeCode"`
	DocumentCurrencyCode    string             `xml:"DocumentCurrencyCode"`
	AccountingSupplierParty Party              `xml:"AccountingSupplierParty>Party"`
	AccountingCustomerParty Party              `xml:"AccountingCustomerParty>Party"`
	TaxTotal                []TaxTotal         `xml:"TaxTotal"`
	LegalMonetaryTotal      LegalMonetaryTotal `xml:"LegalMonetaryTotal"`
	InvoiceLine             []InvoiceLine      `xml:"InvoiceLine"`
}

// Bytes serializes the document to XML. Serialization is deterministic: the
// same document always yields byte-identical output.
func (d *Document) Bytes() ([]byte, error) {
	return xml.MarshalIndent(d, "", "  ")
}
