// Package tools provides the built-in research tools: web_search (Tavily or
// SearXNG), search_wikipedia, execute_code and create_plot.
//
// Every failure is returned as a categorized *errclass.Error so the agent can
// decide between retrying, reporting a failure observation and aborting. Code
// tools run python in a sandbox.Sandbox behind an import allow-list.
//
// Usage:
//
//	reg := toolregistry.New(toolregistry.Config{})
//	err := tools.Register(reg, tools.Options{
//		Search:  tools.SearchOptions{TavilyAPIKey: key},
//		Sandbox: sb,
//	})
package tools
