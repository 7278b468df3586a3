// Package stanza parses request bodies into elements and decodes elements into typed
// stanzas. It is the default ElementParser and MessageDecoder of the bridge.
package stanza
