// Package c8y provides a small HTTP client for the Cumulocity IoT REST API.
//
// # Overview
//
// The client covers exactly the calls c8yview needs:
//
//   - GET of a collection resource (alarms, EPL files) returning the records of
//     one named JSON array field, undecoded
//   - POST service/cep/eplfiles to upload an EPL application
//   - GET inventory/managedObjects?pageSize=1 as a connection check
//
// Records are returned as json.RawMessage so that callers can both map them into
// typed tree nodes and keep the exact remote representation for display.
//
// # Credentials
//
// Every call takes an Endpoint (base URL, user, password). The client holds no
// credentials of its own; the refresh pipeline passes the configuration snapshot
// it started with, so a configuration change mid-cycle cannot mix two tenants.
//
// # Errors
//
// Every failure is a *TransportError carrying the method, the redacted URL and,
// when the server answered, the HTTP status. Callers decide whether a failure is
// fatal: refresh cycles keep their last good data, uploads surface the message.
//
//	records, err := client.FetchCollection(ctx, ep, c8y.Request{
//		Path:  "alarm/alarms",
//		Query: url.Values{"resolved": {"false"}},
//		Field: "alarms",
//	})
//	var te *c8y.TransportError
//	if errors.As(err, &te) && te.Unauthorized() {
//		// prompt for credentials
//	}
package c8y
