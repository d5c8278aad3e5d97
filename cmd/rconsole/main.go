// rconsole is an administrative client for the RCON remote console
// protocol. It keeps authenticated sessions to one or more game servers
// and drives them from an interactive console, a REST API and MQTT.
package main

func main() {
	Execute()
}
