// Package connector defines the port interfaces and value objects shared by
// every provider integration: connection configuration, authentication tokens,
// the ProviderAdapter contract and the closed error taxonomy.
//
// Concrete adapters (QuickBooks, Xero, Shopify, ...) live in the
// infrastructure layer and implement the ProviderAdapter interface; this
// package stays free of HTTP and provider specifics.
package connector
