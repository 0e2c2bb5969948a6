// Package access decides per-page view permissions. Permission maps are
// normalized against the authoritative page list before they are stored or
// consulted, so stale slugs never leak into saved permissions.
package access

// Page is an entry in the authoritative page list.
type Page struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
}

// DefaultPages is the baseline page set seeded into the relational store and
// used when no page collection exists yet.
var DefaultPages = []Page{
	{Slug: "home", Title: "Home"},
	{Slug: "projects", Title: "Projects"},
	{Slug: "tasks", Title: "Tasks"},
	{Slug: "bva", Title: "BVA Dashboard"},
	{Slug: "admin", Title: "Admin"},
}

// Normalize produces a permission map with exactly one key per authoritative
// slug. A slug is true only when the incoming map explicitly sets it true;
// everything else defaults to false. Incoming keys that are not authoritative
// pages are dropped silently.
func Normalize(pages []Page, incoming map[string]bool) map[string]bool {
	normalized := make(map[string]bool, len(pages))
	for _, page := range pages {
		normalized[page.Slug] = incoming[page.Slug]
	}
	return normalized
}

// ExpandSuperAdmin is the save-time convenience for the super-admin flag: it
// forces every known page to true. It does not bypass Allowed at read time;
// callers persist the expanded map.
func ExpandSuperAdmin(pages []Page) map[string]bool {
	expanded := make(map[string]bool, len(pages))
	for _, page := range pages {
		expanded[page.Slug] = true
	}
	return expanded
}

// Allowed grants access iff the map has the slug explicitly true. A missing
// slug denies.
func Allowed(perms map[string]bool, slug string) bool {
	return perms[slug]
}
