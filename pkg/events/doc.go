// Package events defines the deployments:<id> pub/sub event contract
// (§6) and a thin Publisher over the coordination store. Subscribers
// (dashboards, CLIs) connect directly to the coordination store's
// Subscribe method; this package only standardizes what gets published.
package events
