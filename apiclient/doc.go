// Package apiclient is a resilient outbound HTTP client framework.
//
// A Client wraps one logical external dependency (a forensic tool, a
// records database, a notification service) and orchestrates each call
// through circuit breaking, rate-limit admission, authentication, the
// transport round-trip, outcome classification and bounded retry. Every
// call returns a Result; transport failures never surface as Go errors.
//
// A Manager holds the named registry of client configurations and lazily
// builds one Client per name, so repeated calls against the same
// dependency accumulate into one throughput and failure budget.
//
// Basic usage:
//
//	mgr := apiclient.NewManager(apiclient.WithManagerLogger(log))
//	err := mgr.Register("forensics", apiclient.ClientConfig{
//		BaseURL: "https://forensics.internal",
//		Auth:    auth.Config{Strategy: auth.StrategyAPIKey, APIKey: key},
//	})
//	...
//	client, err := mgr.Get("forensics")
//	result := client.Get(ctx, "/v1/artifacts/42")
//	if result.IsSuccess() {
//		var artifact Artifact
//		_ = result.Response.Decode(&artifact)
//	}
package apiclient
