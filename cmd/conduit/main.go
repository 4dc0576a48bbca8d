// Command conduit runs and supervises ML pipeline runs from the terminal, over
// HTTP or as an MCP server.
package main

func main() {
	Execute()
}
