package banner

import (
	"fmt"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗ ██████╗ ██████╗ ██████╗ ███████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██╔═══██╗██╔══██╗██╔════╝
██║     ███████║███████║   ██║   ██║     ██║   ██║██████╔╝█████╗
██║     ██╔══██║██╔══██║   ██║   ██║     ██║   ██║██╔══██╗██╔══╝
╚██████╗██║  ██║██║  ██║   ██║   ╚██████╗╚██████╔╝██║  ██║███████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝    ╚═════╝ ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

// Print prints the startup banner with the effective runtime settings.
func Print(addr, engine, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("Engine:   %s\n", engine)
	if dbPath != "" {
		fmt.Printf("DB Path:  %s\n", dbPath)
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST   /v1/channels/{channel}/messages - Send a message")
	fmt.Println("PUT    /v1/messages/{id}               - Edit a message")
	fmt.Println("DELETE /v1/messages/{id}               - Delete a message")
	fmt.Println("GET    /v1/channels/{channel}/events   - Poll for changes (?cursor=&limit=)")
	fmt.Println("POST   /v1/channels/{channel}/typing   - Typing indicator")
	fmt.Println("GET    /v1/presence                    - Presence roster")
	fmt.Println("GET    /ws?channel=<id>                - Websocket push")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/channels/general/messages' -H 'X-User-ID: alice' -d '{\"body\":\"hello\"}'\n", addr)
	fmt.Printf("curl 'http://localhost%s/v1/channels/general/events?cursor=0' -H 'X-User-ID: alice'\n", addr)
}
