// Package source turns loosely-typed image descriptors ({uri, headers,
// priority, cache}) into one of four resolved variants: a remote URL, a local
// file, an embedded data: payload or a bundled resource. Resolution is purely
// syntactic plus a resource-table lookup; nothing here touches the network.
package source
