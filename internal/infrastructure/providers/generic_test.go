package providers

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/einvoice/connector/internal/domain/canonical"
	"github.com/einvoice/connector/internal/domain/connector"
)

const genericOrderPayload = `{
	"id": "ord-771",
	"number": "SO-2026-0771",
	"issued_at": "2026-03-14T09:30:00Z",
	"currency": "NGN",
	"supplier": {"name": "Acme Supplies Ltd", "tax_id": "NG-12345678", "address": "12 Marina Rd, Lagos", "email": "billing@acme.example"},
	"customer": {"name": "Okoro Trading", "tax_id": "NG-87654321"},
	"lines": [
		{"description": "Widget A", "quantity": "3", "unit_price": "1000.00", "line_total": "3000.00", "tax_rate": "7.5", "tax_amount": "225.00"},
		{"description": "Delivery fee", "quantity": "1", "unit_price": "500.00", "line_total": "500.00"}
	],
	"shipping": "100.00",
	"discount": "50.00",
	"payment_method": "card"
}`

func TestGenericAdapterToCanonicalOrder(t *testing.T) {
	adapter := NewGenericAdapter()

	t.Run("parses a complete order", func(t *testing.T) {
		order, err := adapter.ToCanonicalOrder(connector.RawRecord(genericOrderPayload))
		require.NoError(t, err)

		assert.Equal(t, "ord-771", order.ExternalID)
		assert.Equal(t, "SO-2026-0771", order.Number)
		assert.Equal(t, canonical.Currency("NGN"), order.Currency)
		assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), order.IssueDate)
		assert.Equal(t, "Acme Supplies Ltd", order.Supplier.Name)
		assert.Equal(t, "NG-87654321", order.Customer.TaxID)
		assert.Equal(t, "card", order.PaymentMethod)
		assert.Equal(t, "100.00", order.Shipping.StringFixed(2))
		assert.Equal(t, "50.00", order.Discount.StringFixed(2))

		require.Len(t, order.Lines, 2)
		first := order.Lines[0]
		assert.Equal(t, "Widget A", first.Description)
		assert.Equal(t, "3", first.Quantity.String())
		assert.Equal(t, "1000.00", first.UnitPrice.StringFixed(2))
		assert.Equal(t, "225.00", first.TaxAmount.StringFixed(2))
		assert.Equal(t, "7.5", first.TaxRate.String())
		assert.True(t, first.TaxPresent)

		// Untaxed line comes through with zero tax, not an inferred rate
		second := order.Lines[1]
		assert.True(t, second.TaxRate.IsZero())
		assert.True(t, second.TaxAmount.IsZero())
		assert.False(t, second.TaxPresent)
	})

	t.Run("marks an explicit zero rate as tax present", func(t *testing.T) {
		order, err := adapter.ToCanonicalOrder(connector.RawRecord(`{
			"id": "ord-2", "currency": "NGN", "issued_at": "2026-03-14",
			"lines": [{"description": "Export goods", "quantity": "1", "unit_price": "10.00",
				"line_total": "10.00", "tax_rate": "0", "tax_amount": "0.00"}]
		}`))
		require.NoError(t, err)
		require.Len(t, order.Lines, 1)
		assert.True(t, order.Lines[0].TaxPresent)
		assert.True(t, order.Lines[0].TaxRate.IsZero())
	})

	t.Run("accepts bare date form", func(t *testing.T) {
		order, err := adapter.ToCanonicalOrder(connector.RawRecord(`{
			"id": "ord-1", "currency": "NGN", "issued_at": "2026-03-14",
			"lines": [{"description": "Widget", "quantity": "1", "unit_price": "10.00", "line_total": "10.00"}]
		}`))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), order.IssueDate)
	})

	t.Run("copies the raw payload", func(t *testing.T) {
		record := []byte(genericOrderPayload)
		order, err := adapter.ToCanonicalOrder(connector.RawRecord(record))
		require.NoError(t, err)

		record[0] = 'X'
		assert.Equal(t, byte('{'), order.RawPayload[0])
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		validLine := `{"description": "Widget", "quantity": "1", "unit_price": "10.00", "line_total": "10.00"}`
		tests := []struct {
			name    string
			payload string
			field   string
		}{
			{
				name:    "not json",
				payload: `not-json`,
				field:   "payload",
			},
			{
				name:    "missing id",
				payload: `{"currency": "NGN", "issued_at": "2026-03-14", "lines": [` + validLine + `]}`,
				field:   "id",
			},
			{
				name:    "missing currency",
				payload: `{"id": "ord-1", "issued_at": "2026-03-14", "lines": [` + validLine + `]}`,
				field:   "currency",
			},
			{
				name:    "missing issued_at",
				payload: `{"id": "ord-1", "currency": "NGN", "lines": [` + validLine + `]}`,
				field:   "issued_at",
			},
			{
				name:    "unparseable issued_at",
				payload: `{"id": "ord-1", "currency": "NGN", "issued_at": "14/03/2026", "lines": [` + validLine + `]}`,
				field:   "issued_at",
			},
			{
				name:    "no lines",
				payload: `{"id": "ord-1", "currency": "NGN", "issued_at": "2026-03-14", "lines": []}`,
				field:   "lines",
			},
			{
				name: "line missing unit_price",
				payload: `{"id": "ord-1", "currency": "NGN", "issued_at": "2026-03-14",
					"lines": [{"description": "Widget", "quantity": "1", "line_total": "10.00"}]}`,
				field: "lines[0]",
			},
			{
				name: "line missing line_total",
				payload: `{"id": "ord-1", "currency": "NGN", "issued_at": "2026-03-14",
					"lines": [{"description": "Widget", "quantity": "1", "unit_price": "10.00"}]}`,
				field: "lines[0]",
			},
			{
				name: "second line malformed quantity",
				payload: `{"id": "ord-1", "currency": "NGN", "issued_at": "2026-03-14",
					"lines": [` + validLine + `, {"description": "Widget", "quantity": "two", "unit_price": "10.00", "line_total": "10.00"}]}`,
				field: "lines[1]",
			},
			{
				name:    "malformed shipping",
				payload: `{"id": "ord-1", "currency": "NGN", "issued_at": "2026-03-14", "lines": [` + validLine + `], "shipping": "abc"}`,
				field:   "shipping",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := adapter.ToCanonicalOrder(connector.RawRecord(tt.payload))
				var verr *canonical.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
			})
		}
	})
}

func TestGenericAdapterEventKey(t *testing.T) {
	adapter := NewGenericAdapter()

	assert.Equal(t, "evt-42", adapter.EventKey([]byte(`{"event_id": "evt-42", "order": {}}`)))
	assert.Empty(t, adapter.EventKey([]byte(`{"order": {}}`)))
	assert.Empty(t, adapter.EventKey([]byte(`garbage`)))
}

func TestGenericAdapterPagination(t *testing.T) {
	assert.Equal(t, connector.PaginationCursor, NewGenericAdapter().Pagination())

	adapter, err := NewGenericAdapterWithPagination(connector.PaginationPageNumber)
	require.NoError(t, err)
	assert.Equal(t, connector.PaginationPageNumber, adapter.Pagination())
	assert.Equal(t, GenericProviderID, adapter.ProviderID())

	_, err = NewGenericAdapterWithPagination(connector.PaginationStrategy("offset"))
	assert.True(t, errors.Is(err, connector.ErrNotConfigured))
}

func TestGenericAdapterListEndpoint(t *testing.T) {
	endpoint := NewGenericAdapter().ListEndpoint()

	assert.Equal(t, "/orders", endpoint.Path)
	assert.Equal(t, "orders", endpoint.RecordsField)
	assert.Equal(t, "next_cursor", endpoint.CursorField)
}
