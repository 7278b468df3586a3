// Package commands implements the administrative command executor behind the REST
// bridge: authentication of the --auth prefix, ACL checks and the built-in commands.
package commands
