// Package argv splits an administrative command line into an argument vector.
//
// Arguments are separated by runs of spaces. An argument that starts with a double
// quote (or with a backslash-escaped double quote) is taken literally, spaces included,
// until a quote that is immediately followed by a space or by the end of the line.
// Quotes that are not followed by a space do not close the span and are kept; quotes in
// the middle of an unquoted argument are ordinary characters.
package argv
