// Command asgi-go is the server entrypoint: given a `module:attribute`
// reference to a registered application, it binds the configured
// listeners and runs the connection manager until terminated (spec.md
// §6).
package main

func main() {
	Execute()
}
