package banner

import (
	"fmt"

	"parley/pkg/config"
)

const banner = `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`

// Print writes the startup banner with the effective runtime settings and
// a short production checklist.
func Print(cfg *config.Config, addr, dbPath, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/conversations/direct          - Open (or fetch) a DM")
	fmt.Println("POST /v1/conversations/group           - Create a group")
	fmt.Println("GET  /v1/conversations                 - Sidebar with unread counts")
	fmt.Println("POST /v1/conversations/{id}/messages   - Send a message")
	fmt.Println("GET  /v1/conversations/{id}/messages   - Message log with reactions")
	fmt.Println("POST /v1/messages/{id}/reactions       - Toggle a reaction")
	fmt.Println("POST /v1/conversations/{id}/typing     - Typing signal")

	fmt.Println("\n== Production? =================================================")
	be := len(cfg.Security.APIKeys.Backend)
	fe := len(cfg.Security.APIKeys.Frontend)
	ak := len(cfg.Security.APIKeys.Admin)
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for identity sync)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: none configured")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	fmt.Println()
}
