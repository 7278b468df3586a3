// Package policy evaluates Rego command ACLs with an embedded Open Policy Agent engine.
//
// Each ACL is a Rego module whose allow rule decides whether an authenticated caller may
// run an administrative command. Engines are built once per configuration snapshot and
// cache their decisions; a reload builds fresh engines rather than mutating live ones.
package policy
