// Command cmcp runs the code-mode MCP proxy: it aggregates configured
// upstream MCP servers behind two meta-tools, search and execute, that let
// a client run small scripts against the merged tool catalog instead of
// issuing one tool call per RPC turn.
package main

func main() {
	Execute()
}
