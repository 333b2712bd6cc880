package banner

import (
	"fmt"

	"inboxsync/pkg/config"
)

const banner = `
██╗███╗   ██╗██████╗  ██████╗ ██╗  ██╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██║████╗  ██║██╔══██╗██╔═══██╗╚██╗██╔╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║██╔██╗ ██║██████╔╝██║   ██║ ╚███╔╝ ███████╗ ╚████╔╝ ██╔██╗ ██║██║     
██║██║╚██╗██║██╔══██╗██║   ██║ ██╔██╗ ╚════██║  ╚██╔╝  ██║╚██╗██║██║     
██║██║ ╚████║██████╔╝╚██████╔╝██╔╝ ██╗███████║   ██║   ██║ ╚████║╚██████╗
╚═╝╚═╝  ╚═══╝╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print shows the effective runtime configuration at startup.
func Print(eff config.EffectiveConfigResult, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", eff.Addr)
	fmt.Printf("Platform:  %s\n", eff.Config.Platform.BaseURL)
	if eff.Cache != "" {
		fmt.Printf("Cache:     %s\n", eff.Cache)
	} else {
		fmt.Println("Cache:     (disabled)")
	}
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if eff.Sources != "" {
		fmt.Printf("Config sources: %s\n", eff.Sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET    /v1/conversations - Ordered conversation list")
	fmt.Println("GET    /v1/conversations/{id}/messages - Ordered message list")
	fmt.Println("POST   /v1/conversations/{id}/messages - Send (text and/or attachment urls)")
	fmt.Println("DELETE /v1/conversations/{id}/messages/{tempID} - Dismiss a failed send")
	fmt.Println("POST   /v1/conversations/{id}/read - Mark read")
	fmt.Println("PATCH  /v1/conversations/{id}/lead - Edit lead notes/tags")
	fmt.Println("GET    /v1/conversations/{id}/window - Reply-window state")
	fmt.Println("POST   /v1/media - Upload an attachment, get back its url")
	fmt.Println("POST   /v1/refresh - Trigger a full re-fetch now")
}
