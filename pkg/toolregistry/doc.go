// Package toolregistry maps tool names to their invocation contract.
//
// The registry is built once at startup and sealed before the first query.
// Resolve validates that a requested tool exists and that its arguments match
// the JSON Schema generated from the tool's parameters; the returned Handle
// invokes the tool under a per-call timeout. The registry never retries and
// never classifies failures, that is left to the caller.
//
// Usage:
//
//	reg := toolregistry.New(toolregistry.Config{Timeout: 30 * time.Second})
//	_ = reg.Register(toolregistry.ToolSpec{
//		Name:        "search_wikipedia",
//		Description: "Look up a topic on Wikipedia",
//		Parameters:  []toolregistry.Parameter{{Name: "query", Type: "string", Required: true}},
//		Retryable:   true,
//		Tool:        wiki,
//	})
//	reg.Seal()
//
//	handle, err := reg.Resolve("search_wikipedia", map[string]interface{}{"query": "Hubble"})
//	if err != nil {
//		return err
//	}
//	out, err := handle.Invoke(ctx)
package toolregistry
