// Package domain defines the core types and collaborator interfaces of the REST bridge.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Stanzas, JIDs, per-domain access policies and the error taxonomy
// live here so that the tokenizer, the access gate and both pipelines can share them
// without depending on transport or storage code.
//
// Other packages (stanza, access, bridge, commands, routing, storage) implement the
// interfaces defined here. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
